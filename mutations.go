package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

//go:embed observer.js
var observerJS string

// mutationBinding is the JS -> Go channel the injected MutationObserver calls.
const mutationBinding = "__shiptotal_mutations"

// PageMutations is a MutationSource for a live page. A MutationObserver on
// document.body reports child list changes through a CDP binding, and load
// events of later navigations are forwarded as immediate runs.
type PageMutations struct {
	page        *rod.Page
	markerClass string
	logger      *zap.Logger
}

func NewPageMutations(page *rod.Page, markerClass string, logger *zap.Logger) *PageMutations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageMutations{page: page, markerClass: markerClass, logger: logger}
}

func (m *PageMutations) Subscribe(ctx context.Context, notify, load func()) (func() error, error) {
	if err := (proto.RuntimeAddBinding{Name: mutationBinding}).Call(m.page); err != nil {
		return nil, fmt.Errorf("add binding: %w", err)
	}
	if err := (proto.PageEnable{}).Call(m.page); err != nil {
		return nil, fmt.Errorf("enable page events: %w", err)
	}

	bootstrap, err := m.bootstrapScript()
	if err != nil {
		return nil, err
	}
	removeScript, err := m.page.EvalOnNewDocument(bootstrap)
	if err != nil {
		return nil, fmt.Errorf("register observer script: %w", err)
	}
	if _, err := m.page.Eval(observerJS, mutationBinding, m.markerClass); err != nil {
		_ = removeScript()
		return nil, fmt.Errorf("inject observer: %w", err)
	}

	evCtx, cancel := context.WithCancel(ctx)
	wait := m.page.Context(evCtx).EachEvent(
		func(e *proto.RuntimeBindingCalled) {
			if e.Name != mutationBinding {
				return
			}
			m.logger.Debug("mutation batch", zap.String("records", e.Payload))
			notify()
		},
		func(e *proto.PageLoadEventFired) {
			m.logger.Debug("page load event")
			load()
		},
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	stop := func() error {
		cancel()
		<-done
		_, _ = m.page.Eval(`() => {
			const o = window.__shiptotalObserver;
			if (o) { o.disconnect(); delete window.__shiptotalObserver; }
		}`)
		return removeScript()
	}
	return stop, nil
}

// bootstrapScript wraps the observer so it runs with its arguments on every
// new document.
func (m *PageMutations) bootstrapScript() (string, error) {
	binding, err := json.Marshal(mutationBinding)
	if err != nil {
		return "", err
	}
	marker, err := json.Marshal(m.markerClass)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s)(%s, %s);", observerJS, binding, marker), nil
}
