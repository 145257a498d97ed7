package analysis

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"triage_server/core/domain"
)

const (
	tinyAttachmentBytes  = 100
	largeAttachmentBytes = 25 * 1024 * 1024
)

var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".scr": {}, ".bat": {}, ".cmd": {}, ".com": {},
	".pif": {}, ".js": {}, ".jse": {}, ".vbs": {}, ".vbe": {},
	".wsf": {}, ".wsh": {}, ".hta": {}, ".cpl": {}, ".jar": {},
	".msi": {}, ".ps1": {},
}

var macroExtensions = map[string]struct{}{
	".docm": {}, ".xlsm": {}, ".pptm": {}, ".dotm": {}, ".xlam": {},
}

var archiveExtensions = map[string]struct{}{
	".zip": {}, ".rar": {}, ".7z": {}, ".iso": {}, ".img": {},
	".tar": {}, ".gz": {},
}

// doubleExtensionPattern matches a benign-looking extension followed by
// an executable one (invoice.pdf.exe).
var doubleExtensionPattern = regexp.MustCompile(
	`(?i)\.(pdf|doc|docx|xls|xlsx|ppt|pptx|jpg|jpeg|png|gif|txt|csv)\.(exe|scr|bat|cmd|com|pif|js|vbs|hta|msi|ps1)$`)

// AttachmentResult carries the attachment subscore and indicators.
type AttachmentResult struct {
	Indicators []domain.ThreatIndicator
	Score      float64 // [0, 10]
}

// AttachmentAnalyzer classifies attachments by extension family and
// flags size anomalies. It never opens attachment content.
type AttachmentAnalyzer struct{}

// NewAttachmentAnalyzer creates an attachment analyzer.
func NewAttachmentAnalyzer() *AttachmentAnalyzer {
	return &AttachmentAnalyzer{}
}

// Analyze inspects each attachment descriptor.
func (a *AttachmentAnalyzer) Analyze(attachments []domain.Attachment) AttachmentResult {
	var result AttachmentResult

	for _, att := range attachments {
		result.Indicators = append(result.Indicators, a.inspect(att)...)
	}

	result.Score = scoreIndicators(result.Indicators)
	return result
}

func (a *AttachmentAnalyzer) inspect(att domain.Attachment) []domain.ThreatIndicator {
	var indicators []domain.ThreatIndicator

	name := strings.ToLower(strings.TrimSpace(att.Filename))
	ext := filepath.Ext(name)

	if doubleExtensionPattern.MatchString(name) {
		indicators = append(indicators, newIndicator(
			domain.CategoryAttachment, domain.SeverityCritical, 0.95,
			"Double extension disguising an executable", att.Filename))
	} else if _, ok := dangerousExtensions[ext]; ok {
		indicators = append(indicators, newIndicator(
			domain.CategoryAttachment, domain.SeverityCritical, 0.9,
			fmt.Sprintf("Dangerous executable attachment (%s)", ext), att.Filename))
	} else if _, ok := macroExtensions[ext]; ok {
		indicators = append(indicators, newIndicator(
			domain.CategoryAttachment, domain.SeverityHigh, 0.8,
			fmt.Sprintf("Macro-enabled document (%s)", ext), att.Filename))
	} else if _, ok := archiveExtensions[ext]; ok {
		indicators = append(indicators, newIndicator(
			domain.CategoryAttachment, domain.SeverityMedium, 0.6,
			fmt.Sprintf("Archive attachment (%s)", ext), att.Filename))
	}

	if att.Size > 0 && att.Size < tinyAttachmentBytes {
		indicators = append(indicators, newIndicator(
			domain.CategoryAttachment, domain.SeverityLow, 0.4,
			"Unusually small attachment",
			fmt.Sprintf("%s (%d bytes)", att.Filename, att.Size)))
	}
	if att.Size > largeAttachmentBytes {
		indicators = append(indicators, newIndicator(
			domain.CategoryAttachment, domain.SeverityMedium, 0.5,
			"Unusually large attachment",
			fmt.Sprintf("%s (%d bytes)", att.Filename, att.Size)))
	}

	return indicators
}

// HasDangerousFile reports whether any indicator marks a critical
// attachment; the scorer uses it to recommend blocking.
func HasDangerousFile(indicators []domain.ThreatIndicator) bool {
	for _, ind := range indicators {
		if ind.Category == domain.CategoryAttachment && ind.Severity == domain.SeverityCritical {
			return true
		}
	}
	return false
}

// HasMacroDocument reports whether any macro-enabled document indicator
// is present.
func HasMacroDocument(indicators []domain.ThreatIndicator) bool {
	for _, ind := range indicators {
		if ind.Category == domain.CategoryAttachment &&
			strings.Contains(ind.Description, "Macro-enabled") {
			return true
		}
	}
	return false
}
