package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Outcome int

const (
	// OutcomeSkipped means the price or delivery element was missing; any
	// total already on the page is left alone.
	OutcomeSkipped Outcome = iota
	// OutcomeRemoved means delivery is free and no total is displayed.
	OutcomeRemoved
	// OutcomeRendered means a total was created or updated.
	OutcomeRendered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRemoved:
		return "removed"
	case OutcomeRendered:
		return "rendered"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result describes one pipeline run.
type Result struct {
	Outcome  Outcome
	Language Language
	Price    float64
	Delivery float64
	Total    float64
	Text     string
}

// Pipeline finds the price and delivery elements, decides free versus paid
// delivery and renders the combined total.
type Pipeline struct {
	priceSelectors    []string
	deliverySelectors []string
	freePhrases       map[string]string
	renderer          *TotalRenderer
	logger            *zap.Logger
}

func NewPipeline(config *Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		priceSelectors:    config.PriceSelectors,
		deliverySelectors: config.DeliverySelectors,
		freePhrases:       config.FreeDeliveryText,
		renderer:          NewTotalRenderer(config.MarkerClass, logger),
		logger:            logger,
	}
}

// Run executes the pipeline once against doc.
func (p *Pipeline) Run(ctx context.Context, doc Document) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	priceEl, err := FindElement(doc, p.priceSelectors, p.logger)
	if err != nil {
		return Result{}, fmt.Errorf("find price element: %w", err)
	}
	deliveryEl, err := FindElement(doc, p.deliverySelectors, p.logger)
	if err != nil {
		return Result{}, fmt.Errorf("find delivery element: %w", err)
	}
	if priceEl == nil || deliveryEl == nil {
		p.logger.Debug("price or delivery element not found",
			zap.Bool("price", priceEl != nil),
			zap.Bool("delivery", deliveryEl != nil))
		return Result{Outcome: OutcomeSkipped}, nil
	}

	lang := PageLanguage(doc)

	priceText, err := priceEl.Text()
	if err != nil {
		return Result{}, fmt.Errorf("read price: %w", err)
	}
	deliveryText, err := deliveryEl.Text()
	if err != nil {
		return Result{}, fmt.Errorf("read delivery: %w", err)
	}
	deliveryText = strings.TrimSpace(deliveryText)

	res := Result{Language: lang, Price: ExtractPrice(priceText)}

	if IsFreeDelivery(deliveryText, p.freePhrases) {
		if err := p.renderer.Clear(doc); err != nil {
			return Result{}, err
		}
		res.Outcome = OutcomeRemoved
		res.Total = res.Price
		return res, nil
	}

	res.Delivery = ExtractPrice(deliveryText)
	res.Total = res.Price + res.Delivery
	res.Text = FormatTotal(lang, res.Total, deliveryText)

	if err := p.renderer.Show(doc, priceEl, res.Text); err != nil {
		return Result{}, err
	}
	res.Outcome = OutcomeRendered

	p.logger.Debug("total rendered",
		zap.String("lang", string(lang)),
		zap.Float64("price", res.Price),
		zap.Float64("delivery", res.Delivery),
		zap.String("text", res.Text))
	return res, nil
}

// Func adapts the pipeline to a ChangeWatcher callback. Failures are logged
// at debug level and never stop later runs.
func (p *Pipeline) Func(doc Document) func(context.Context) {
	return func(ctx context.Context) {
		if _, err := p.Run(ctx, doc); err != nil {
			p.logger.Debug("pipeline run failed", zap.Error(err))
		}
	}
}
