// Package sizing рассчитывает объём позиции по риску на сделку.
//
// Дистанция стопа переводится в пипсы через размер пипса инструмента:
// 0.0001 для 4-значных котировок, 0.01 для пар к JPY, 0.1 для металлов.
// Для 5-значных котировок брокера это упрощение: дробный пипс не учитывается.
package sizing

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	MinLot = 0.01
	MaxLot = 10.0
)

// Стоимость пипса стандартного лота в валюте счёта
var majorPipValues = map[string]float64{
	"EURUSD": 10,
	"GBPUSD": 10,
	"AUDUSD": 10,
	"NZDUSD": 10,
}

const (
	jpyPipValue     = 0.1
	metalPipValue   = 1.0
	defaultPipValue = 1.0

	defaultPipSize = 0.0001
	jpyPipSize     = 0.01
	metalPipSize   = 0.1
)

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func isMetal(s string) bool {
	return strings.Contains(s, "XAU") || strings.Contains(s, "GOLD")
}

// PipValue возвращает стоимость пипса для символа
func PipValue(symbol string) float64 {
	s := normalize(symbol)

	if v, ok := majorPipValues[s]; ok {
		return v
	}

	switch {
	case strings.Contains(s, "JPY"):
		return jpyPipValue
	case isMetal(s):
		return metalPipValue
	default:
		return defaultPipValue
	}
}

// PipSize возвращает ценовой размер одного пипса для символа
func PipSize(symbol string) float64 {
	s := normalize(symbol)

	switch {
	case strings.Contains(s, "JPY"):
		return jpyPipSize
	case isMetal(s):
		return metalPipSize
	default:
		return defaultPipSize
	}
}

// Size рассчитывает объём в лотах.
// Без стопа возвращается минимальный лот: рисковать без дистанции стопа нельзя.
func Size(balance, riskPercent float64, symbol string, stopDistance *float64) float64 {
	if stopDistance == nil || *stopDistance == 0 || balance <= 0 || riskPercent <= 0 {
		return MinLot
	}

	riskAmount := balance * riskPercent / 100
	stopPips := math.Abs(*stopDistance) / PipSize(symbol)

	lots := riskAmount / (stopPips * PipValue(symbol))
	if math.IsNaN(lots) || math.IsInf(lots, 0) {
		return MinLot
	}

	return round(clamp(lots, MinLot, MaxLot))
}

// ApplyMultiplier масштабирует объём подписчика уже после ограничения диапазона.
// Повторного ограничения нет: множитель - осознанное отклонение от профиля риска мастера.
func ApplyMultiplier(lots, multiplier float64) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}

	return round(lots * multiplier)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round оставляет 4 знака после запятой
func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
