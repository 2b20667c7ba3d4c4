package deliver

import (
	"fmt"

	"klaxer/internal/domain"
)

// severityColors is the fixed, total severity-to-color table.
var severityColors = map[domain.Severity]string{
	domain.SeverityCritical: "#d50200",
	domain.SeverityWarning:  "#ffc107",
	domain.SeverityOK:       "#2eb886",
	domain.SeverityUnknown:  "#9e9e9e",
}

// SeverityColor maps one classified severity to its message color.
// An unset severity at this stage is a programming-contract violation:
// classification must always run before delivery, so it fails instead of
// defaulting.
// Params: alert severity.
// Returns: hex color or ErrSeverityUnset.
func SeverityColor(severity domain.Severity) (string, error) {
	color, ok := severityColors[severity]
	if !ok {
		return "", fmt.Errorf("%w (severity=%d)", domain.ErrSeverityUnset, int(severity))
	}
	return color, nil
}
