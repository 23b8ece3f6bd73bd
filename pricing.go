package main

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Language is the page language used for rendering the total.
type Language string

const (
	LangRU Language = "ru"
	LangEN Language = "en"
)

var (
	nonPriceChars = regexp.MustCompile(`[^0-9.]`)
	// Same prefix rule as JavaScript parseFloat once the text is reduced to digits and dots.
	floatPrefix    = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)`)
	russianWords   = regexp.MustCompile(`(?i)товар|доставка|руб`)
	englishWords   = regexp.MustCompile(`(?i)product|shipping|usd`)
	currencySymbol = regexp.MustCompile(`[$€£]`)
)

// FindElement returns the element matched by the first selector in the list
// that matches anything. List order decides, not position in the page.
// Selectors that fail to compile are skipped.
func FindElement(doc Document, selectors []string, logger *zap.Logger) (Element, error) {
	for _, selector := range selectors {
		el, err := doc.Query(selector)
		if err != nil {
			if errors.Is(err, ErrInvalidSelector) {
				if logger != nil {
					logger.Debug("skipping selector", zap.String("selector", selector), zap.Error(err))
				}
				continue
			}
			return nil, fmt.Errorf("query %q: %w", selector, err)
		}
		if el != nil {
			return el, nil
		}
	}
	return nil, nil
}

// ExtractPrice reads a locale-formatted price. Everything but digits and
// dots is dropped, so "1.234" reads as 1.234. Unparsable input gives 0, and
// so do digit runs too long for a float64.
func ExtractPrice(text string) float64 {
	if text == "" {
		return 0
	}
	cleaned := nonPriceChars.ReplaceAllString(text, "")
	num := floatPrefix.FindString(cleaned)
	if num == "" {
		return 0
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// PageLanguage decides between Russian and English rendering. The declared
// lang attribute always wins over sniffing the body text.
func PageLanguage(doc Document) Language {
	if lang, err := doc.Lang(); err == nil {
		if strings.Contains(lang, "ru") {
			return LangRU
		}
		if strings.Contains(lang, "en") {
			return LangEN
		}
	}

	body, err := doc.BodyText()
	if err != nil {
		return LangEN
	}
	if russianWords.MatchString(body) {
		return LangRU
	}
	if englishWords.MatchString(body) {
		return LangEN
	}
	return LangEN
}

// IsFreeDelivery reports whether the delivery text contains the free
// delivery phrase of any locale. The page language plays no part.
func IsFreeDelivery(text string, phrases map[string]string) bool {
	for _, phrase := range phrases {
		if phrase != "" && strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// FormatTotal renders the label text for a total.
func FormatTotal(lang Language, total float64, deliveryText string) string {
	if lang == LangRU {
		// At most three fraction digits, like Number.toLocaleString.
		rounded := math.Round(total*1000) / 1000
		return Label(LangRU, "total_with_shipping", humanize.Commaf(rounded))
	}
	symbol := currencySymbol.FindString(deliveryText)
	return Label(LangEN, "total_with_shipping", symbol, strconv.FormatFloat(total, 'f', 2, 64))
}
