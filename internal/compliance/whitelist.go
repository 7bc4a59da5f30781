// Package compliance - предторговые проверки: whitelist пропфирм и лимиты риска.
package compliance

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"propcopy/internal/platform"
)

//go:embed whitelist.yaml
var defaultWhitelist []byte

// Propfirm - запись whitelist
type Propfirm struct {
	Name              string   `yaml:"name" json:"name"`
	AllowsCopyTrading bool     `yaml:"allows_copy_trading" json:"allows_copy_trading"`
	Platforms         []string `yaml:"platforms" json:"platforms"`
	Rules             []string `yaml:"rules" json:"rules,omitempty"`
}

// ValidationResult - результат проверки пропфирмы
type ValidationResult struct {
	IsValid      bool      `json:"is_valid"`
	Message      string    `json:"message"`
	Propfirm     *Propfirm `json:"propfirm,omitempty"`
	Restrictions []string  `json:"restrictions,omitempty"`
}

// restriction - правило пропфирмы поверх данных whitelist
type restriction struct {
	copyTrading bool
	reason      string
	platforms   []string
}

var restrictions = map[string]restriction{
	"The Funded Trader": {reason: "TFT explicitly prohibits copy trading in their terms of service"},
	"FTUK":              {reason: "FTUK does not allow automated trading or copy trading"},
	"TopStep":           {copyTrading: true, platforms: []string{"MetaTrader 4", "MetaTrader 5"}},
}

var nameAliases = map[string]string{
	"ftmo":                "FTMO",
	"f.t.m.o":             "FTMO",
	"ftmo.com":            "FTMO",
	"5%ers":               "5%ers",
	"fivepercenters":      "5%ers",
	"the5%ers":            "5%ers",
	"myforexfunds":        "MyForexFunds",
	"mff":                 "MyForexFunds",
	"the funded trader":   "The Funded Trader",
	"tft":                 "The Funded Trader",
	"funded trader":       "The Funded Trader",
	"topstep":             "TopStep",
	"apex trader funding": "Apex Trader Funding",
	"apex":                "Apex Trader Funding",
	"surge trader":        "SurgeTrader",
	"surgetrader":         "SurgeTrader",
	"e8 funding":          "E8 Funding",
	"e8":                  "E8 Funding",
	"ftuk":                "FTUK",
}

var defaultRules = []string{
	"Please check propfirm terms of service",
	"Verify copy trading policy",
	"Confirm platform compatibility",
}

// NormalizeName приводит распространённые написания названия к каноническому
func NormalizeName(name string) string {
	if n, ok := nameAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return n
	}
	return strings.TrimSpace(name)
}

// Whitelist - справочник пропфирм, допускающих копирование
type Whitelist struct {
	firms map[string]Propfirm
	order []string
}

type whitelistFile struct {
	Propfirms []Propfirm `yaml:"propfirms"`
}

// ParseWhitelist разбирает YAML со списком пропфирм
func ParseWhitelist(data []byte) (*Whitelist, error) {
	var f whitelistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse propfirm whitelist: %w", err)
	}

	w := &Whitelist{firms: make(map[string]Propfirm, len(f.Propfirms))}
	for _, p := range f.Propfirms {
		if p.Name == "" {
			return nil, fmt.Errorf("propfirm whitelist: entry without name")
		}

		name := NormalizeName(p.Name)
		if _, dup := w.firms[name]; dup {
			return nil, fmt.Errorf("propfirm whitelist: duplicate entry %q", name)
		}

		p.Name = name
		w.firms[name] = p
		w.order = append(w.order, name)
	}

	return w, nil
}

// LoadWhitelist читает whitelist из файла; пустой путь - встроенный список
func LoadWhitelist(path string) (*Whitelist, error) {
	if path == "" {
		return ParseWhitelist(defaultWhitelist)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read propfirm whitelist: %w", err)
	}

	return ParseWhitelist(data)
}

// Lookup ищет пропфирму по любому написанию названия
func (w *Whitelist) Lookup(name string) (Propfirm, bool) {
	p, ok := w.firms[NormalizeName(name)]
	return p, ok
}

// Validate проверяет, можно ли копировать сделки на счёт пропфирмы на платформе
func (w *Whitelist) Validate(propfirmName, platformName string) ValidationResult {
	name := NormalizeName(propfirmName)

	p, ok := w.firms[name]
	if !ok {
		return ValidationResult{
			Message:      fmt.Sprintf("PropFirm %q is not in our database. Please contact support to add it.", propfirmName),
			Restrictions: []string{"Unknown propfirm - verification required"},
		}
	}

	if !p.AllowsCopyTrading {
		return ValidationResult{
			Message:      fmt.Sprintf("%s does not allow copy trading according to their terms of service.", propfirmName),
			Propfirm:     &p,
			Restrictions: []string{"Copy trading prohibited by propfirm terms"},
		}
	}

	if len(p.Platforms) > 0 && !platformListed(p.Platforms, platformName) {
		return ValidationResult{
			Message: fmt.Sprintf("%s does not support %s platform. Supported platforms: %s",
				propfirmName, platformName, strings.Join(p.Platforms, ", ")),
			Propfirm:     &p,
			Restrictions: []string{fmt.Sprintf("Platform %s not supported", platformName)},
		}
	}

	if r, ok := restrictions[name]; ok {
		if !r.copyTrading {
			return ValidationResult{Message: r.reason, Propfirm: &p, Restrictions: []string{r.reason}}
		}

		if len(r.platforms) > 0 && !platformListed(r.platforms, platformName) {
			return ValidationResult{
				Message:      fmt.Sprintf("%s only supports: %s", name, strings.Join(r.platforms, ", ")),
				Propfirm:     &p,
				Restrictions: []string{fmt.Sprintf("Platform %s not supported by %s", platformName, name)},
			}
		}
	}

	return ValidationResult{
		IsValid:  true,
		Message:  fmt.Sprintf("%s is approved for copy trading on %s", propfirmName, platformName),
		Propfirm: &p,
	}
}

// Alternatives возвращает до limit пропфирм, разрешающих копирование
func (w *Whitelist) Alternatives(limit int) []string {
	var out []string
	for _, name := range w.order {
		if len(out) >= limit {
			break
		}

		p := w.firms[name]
		if r, ok := restrictions[name]; ok && !r.copyTrading {
			continue
		}
		if p.AllowsCopyTrading {
			out = append(out, name)
		}
	}

	return out
}

// Rules возвращает известные правила пропфирмы или общий чек-лист
func (w *Whitelist) Rules(propfirmName string) []string {
	if p, ok := w.Lookup(propfirmName); ok && len(p.Rules) > 0 {
		return p.Rules
	}
	return defaultRules
}

// platformListed сравнивает платформы по нормализованному виду ("MetaTrader 5" == "metatrader")
func platformListed(listed []string, platformName string) bool {
	want, err := platform.ParsePlatform(platformName)
	if err != nil {
		return slices.ContainsFunc(listed, func(s string) bool {
			return strings.EqualFold(s, platformName)
		})
	}

	return slices.ContainsFunc(listed, func(s string) bool {
		p, err := platform.ParsePlatform(s)
		return err == nil && p == want
	})
}
