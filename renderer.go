package main

import (
	"fmt"

	"go.uber.org/zap"
)

const totalStyle = "margin-top: 10px; font-size: 18px; color: #d32f2f; font-weight: bold;"

// TotalRenderer owns the single element carrying the marker class. Nothing
// else in the program writes to the page.
type TotalRenderer struct {
	markerClass string
	logger      *zap.Logger
}

func NewTotalRenderer(markerClass string, logger *zap.Logger) *TotalRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TotalRenderer{markerClass: markerClass, logger: logger}
}

func (r *TotalRenderer) selector() string {
	return "." + r.markerClass
}

// Current returns the displayed total element, or nil when absent.
func (r *TotalRenderer) Current(doc Document) (Element, error) {
	return doc.Query(r.selector())
}

// Clear removes the total element. It is a no-op when nothing is displayed.
func (r *TotalRenderer) Clear(doc Document) error {
	el, err := r.Current(doc)
	if err != nil {
		return err
	}
	if el == nil {
		return nil
	}
	if err := el.Remove(); err != nil {
		return fmt.Errorf("remove total: %w", err)
	}
	r.logger.Debug("total removed")
	return nil
}

// Show displays text in the total element, updating it in place when it
// already exists and otherwise appending a new one after the price element's
// last sibling.
func (r *TotalRenderer) Show(doc Document, priceEl Element, text string) error {
	el, err := r.Current(doc)
	if err != nil {
		return err
	}

	if el != nil {
		current, err := el.Text()
		if err != nil {
			return fmt.Errorf("read total: %w", err)
		}
		if current == text {
			return nil
		}
		if err := el.SetText(text); err != nil {
			return fmt.Errorf("update total: %w", err)
		}
		r.logger.Debug("total updated", zap.String("text", text))
		return nil
	}

	parent, err := priceEl.Parent()
	if err != nil {
		return fmt.Errorf("price parent: %w", err)
	}
	if parent == nil {
		return ErrNoParent
	}

	el, err = doc.CreateElement("div", r.markerClass)
	if err != nil {
		return fmt.Errorf("create total: %w", err)
	}
	if err := el.SetAttribute("style", totalStyle); err != nil {
		return fmt.Errorf("style total: %w", err)
	}
	if err := el.SetText(text); err != nil {
		return fmt.Errorf("set total text: %w", err)
	}
	if err := parent.AppendChild(el); err != nil {
		return fmt.Errorf("append total: %w", err)
	}
	r.logger.Debug("total created", zap.String("text", text))
	return nil
}
