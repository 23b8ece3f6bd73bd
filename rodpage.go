package main

import (
	"errors"
	"fmt"

	"github.com/go-rod/rod"
)

// PageDocument is a Document backed by a live page in Chrome.
type PageDocument struct {
	page *rod.Page
}

type pageElement struct {
	doc *PageDocument
	el  *rod.Element
}

func NewPageDocument(page *rod.Page) *PageDocument {
	return &PageDocument{page: page}
}

func (d *PageDocument) Query(selector string) (Element, error) {
	found, el, err := d.page.Has(selector)
	if err != nil {
		var evalErr *rod.EvalError
		if errors.As(err, &evalErr) {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, err)
		}
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &pageElement{doc: d, el: el}, nil
}

func (d *PageDocument) Lang() (string, error) {
	res, err := d.page.Eval(`() => document.documentElement.getAttribute('lang') || ''`)
	if err != nil {
		return "", fmt.Errorf("read lang: %w", err)
	}
	return res.Value.Str(), nil
}

func (d *PageDocument) BodyText() (string, error) {
	res, err := d.page.Eval(`() => document.body ? document.body.textContent : ''`)
	if err != nil {
		return "", fmt.Errorf("read body text: %w", err)
	}
	return res.Value.Str(), nil
}

func (d *PageDocument) CreateElement(tag, class string) (Element, error) {
	el, err := d.page.ElementByJS(rod.Eval(`(tag, cls) => {
		const el = document.createElement(tag);
		el.className = cls;
		return el;
	}`, tag, class))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tag, err)
	}
	return &pageElement{doc: d, el: el}, nil
}

func (e *pageElement) Text() (string, error) {
	res, err := e.el.Eval(`() => this.textContent || ''`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *pageElement) SetText(text string) error {
	_, err := e.el.Eval(`(text) => { this.textContent = text }`, text)
	return err
}

func (e *pageElement) SetAttribute(name, value string) error {
	_, err := e.el.Eval(`(name, value) => { this.setAttribute(name, value) }`, name, value)
	return err
}

func (e *pageElement) Parent() (Element, error) {
	p, err := e.el.Parent()
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pageElement{doc: e.doc, el: p}, nil
}

func (e *pageElement) AppendChild(child Element) error {
	c, ok := child.(*pageElement)
	if !ok || c.doc != e.doc {
		return ErrDetached
	}
	_, err := e.el.Eval(`(child) => { this.appendChild(child) }`, c.el.Object)
	return err
}

func (e *pageElement) Remove() error {
	return e.el.Remove()
}
