// Package criteria decides whether a job offer's text satisfies the user's
// acceptance configuration.
package criteria

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	hourRe     = regexp.MustCompile(`(?i)(\d{1,2}):\d{2}\s?(AM|PM)`)
	priceRe    = regexp.MustCompile(`RM(\d+\.?\d*)`)
	distanceRe = regexp.MustCompile(`(?i)(\d+\.?\d*)\s?Km from you`)
)

// ExtractHour returns the pickup hour of the first "H:MM AM|PM" in text, in 24h form
func ExtractHour(text string) (int, bool) {
	m := hourRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "PM":
		if hour < 12 {
			hour += 12
		}
	case "AM":
		if hour == 12 {
			hour = 0
		}
	}
	return hour, true
}

// ExtractPrice returns the amount of the first "RM<number>" in text
func ExtractPrice(text string) (float64, bool) {
	return firstNumber(priceRe, text)
}

// ExtractDistanceKm returns the distance of the first "<number> Km from you" in text
func ExtractDistanceKm(text string) (float64, bool) {
	return firstNumber(distanceRe, text)
}

func firstNumber(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
