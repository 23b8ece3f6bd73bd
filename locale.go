package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var langFS embed.FS

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

var (
	labelOnce     sync.Once
	labelCatalogs map[Language]*Locale
)

// InitLocale initializes the global locale used for console messages
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		l, err = LoadLocale("en_US")
		if err != nil {
			return fmt.Errorf("failed to load fallback locale en_US: %w", err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale detects the user's system locale
func DetectSystemLocale() string {
	// LANG is typically like "en_US.UTF-8" or "ru_RU.UTF-8"
	for _, env := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		if locale := os.Getenv(env); locale != "" {
			parts := strings.Split(locale, ".")
			if parts[0] != "" {
				return parts[0]
			}
		}
	}

	return "en_US"
}

// LoadLocale loads a locale catalog. A lang/<locale>.yaml file next to the
// executable overrides the embedded copy.
func LoadLocale(locale string) (*Locale, error) {
	if locale == "" || strings.ContainsAny(locale, `/\`) {
		return nil, fmt.Errorf("invalid locale name %q", locale)
	}

	data, err := readLocaleFile(locale)
	if err != nil {
		return nil, err
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}

	return &Locale{
		translations: translations,
		locale:       locale,
	}, nil
}

func readLocaleFile(locale string) ([]byte, error) {
	if exePath, err := os.Executable(); err == nil {
		override := filepath.Join(filepath.Dir(exePath), "lang", locale+".yaml")
		if data, err := os.ReadFile(override); err == nil {
			return data, nil
		}
	}

	data, err := langFS.ReadFile("lang/" + locale + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read locale %s: %w", locale, err)
	}
	return data, nil
}

// T translates a console message key with optional parameters
// Usage: T("page_loading", url)
func T(key string, params ...interface{}) string {
	if globalLocale == nil {
		return key
	}
	return globalLocale.format(key, params...)
}

// GetLocale returns the current locale code (e.g., "en_US", "ru_RU")
func GetLocale() string {
	if globalLocale == nil {
		return "en_US"
	}
	return globalLocale.locale
}

// Label formats a template from the catalog of the page language, which is
// unrelated to the console locale.
func Label(lang Language, key string, params ...interface{}) string {
	labelOnce.Do(loadLabelCatalogs)

	l, ok := labelCatalogs[lang]
	if !ok {
		l = labelCatalogs[LangEN]
	}
	return l.format(key, params...)
}

func loadLabelCatalogs() {
	labelCatalogs = make(map[Language]*Locale)
	for lang, locale := range map[Language]string{LangRU: "ru_RU", LangEN: "en_US"} {
		data, err := langFS.ReadFile("lang/" + locale + ".yaml")
		if err != nil {
			continue
		}
		var translations map[string]string
		if err := yaml.Unmarshal(data, &translations); err != nil {
			continue
		}
		labelCatalogs[lang] = &Locale{translations: translations, locale: locale}
	}
}

func (l *Locale) format(key string, params ...interface{}) string {
	if l == nil {
		return key
	}
	translation, ok := l.translations[key]
	if !ok {
		return key
	}
	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}
	return translation
}
