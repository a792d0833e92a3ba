// Package validation содержит функции валидации входных данных.
package validation

import (
	"regexp"
	"strings"

	"github.com/mmeshcher/modernmilkman/internal/model"
)

const calendarDomain = "calendar."

// objectID повторяет правило Home Assistant: строчные буквы, цифры и одиночные подчёркивания внутри.
var objectID = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

// IsValidCalendarTarget проверяет цель синхронизации: "None" или идентификатор calendar.<object_id>.
func IsValidCalendarTarget(target string) bool {
	if target == model.NoCalendar {
		return true
	}
	if !strings.HasPrefix(target, calendarDomain) {
		return false
	}
	return objectID.MatchString(strings.TrimPrefix(target, calendarDomain))
}

// ParseCalendars разбирает список целей через запятую, убирая пробелы, пустые элементы и повторы.
func ParseCalendars(raw string) []string {
	var res []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		res = append(res, part)
	}
	return res
}
