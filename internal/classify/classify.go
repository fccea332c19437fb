// Package classify assigns a product category, confidence, and provenance
// source to a drug from its name, manufacturer, and (optionally) an
// approval-number signal observed by the browser harvester.
//
// The rule shape here — an ordered priority list, each rule testing
// substring-set membership — generalizes the cookie-scanner's
// categorizeCookie heuristic to a different domain with a richer,
// auditable rule set.
package classify

import (
	"regexp"
	"strings"
)

// Category is one of the closed set of product categories.
type Category string

const (
	CategoryDrug          Category = "drug"
	CategoryCosmetic      Category = "cosmetic"
	CategoryMedicalDevice Category = "medical_device"
	CategoryHealthProduct Category = "health_product"
	CategoryUnknown       Category = "unknown"
)

// Source records where a classification decision came from, so a caller can
// re-classify later without losing the audit trail.
type Source string

const (
	SourceAPI     Source = "api"
	SourceKeyword Source = "keyword"
	SourceBrowser Source = "browser"
	SourceManual  Source = "manual"
)

// Result is the outcome of classifying one drug: a total function over
// (category, confidence, source) — see P4/L1 in the testable-properties
// suite.
type Result struct {
	Category   Category
	Confidence float64
	Source     Source
}

// Input carries every signal the classifier may consult.
type Input struct {
	Name            string
	Manufacturer    string
	ApprovalNumber  string // optional, populated by the browser detail pass
}

var rxMarker = regexp.MustCompile(`(?i)[（(]\s*rx\s*[）)]`)

var cosmeticKeywords = []string{"珍珠霜", "珍珠膏", "面霜", "乳液", "精华液", "洗面奶", "面膜", "眼霜", "皇后牌"}
var medicalDeviceKeywords = []string{"医用口罩", "外科口罩", "血糖仪", "血压计", "体温计", "雾化器", "注射器", "绷带", "纱布"}
var dosageFormKeywords = []string{"片", "胶囊", "颗粒", "糖浆", "注射液"}
var healthMarkerPrefixes = []string{"保健", "营养"}
var healthProductKeywords = []string{"维生素", "钙片", "鱼油", "蛋白粉", "益生菌"}

var (
	approvalDrugPattern   = regexp.MustCompile(`国药准字[HZSJB]\d{8}`)
	approvalDeviceMarker  = "国械注"
	approvalCosmeticPats  = []string{"卫妆准字", "国妆特字"}
	approvalHealthPats    = []string{"国食健字", "卫食健字"}
)

// Classify evaluates the rules in priority order (first match wins) and
// returns a total result: every input yields some category in the closed
// set with a confidence in [0,1] and a source in the closed set.
func Classify(in Input) Result {
	name := in.Name
	manufacturer := in.Manufacturer

	// Rule 1: prescription marker in name.
	if rxMarker.MatchString(name) {
		return Result{Category: CategoryDrug, Confidence: 1.00, Source: SourceKeyword}
	}

	// Rule 6 jumps ahead of rules 2–5 here: the spec states the
	// approval-number signal, when present, overrides whatever rules 2–5
	// would otherwise have matched — so it must be consulted before them,
	// not after.
	if r, ok := classifyApprovalNumber(in.ApprovalNumber); ok {
		return r
	}

	// Rule 2: manufacturer signals.
	if strings.Contains(manufacturer, "化妆品") {
		return Result{Category: CategoryCosmetic, Confidence: 0.95, Source: SourceKeyword}
	}
	if strings.Contains(manufacturer, "医疗器械") {
		return Result{Category: CategoryMedicalDevice, Confidence: 0.95, Source: SourceKeyword}
	}

	// Rule 3: high-confidence product keyword lists.
	if containsAny(name, cosmeticKeywords...) {
		return Result{Category: CategoryCosmetic, Confidence: 0.90, Source: SourceKeyword}
	}
	if containsAny(name, medicalDeviceKeywords...) {
		return Result{Category: CategoryMedicalDevice, Confidence: 0.90, Source: SourceKeyword}
	}

	// Rule 4: pharmaceutical dosage forms.
	if containsAny(name, dosageFormKeywords...) {
		return Result{Category: CategoryDrug, Confidence: 0.85, Source: SourceKeyword}
	}

	// Rule 5: health-product markers (prefix + keyword both required).
	if containsAny(name, healthMarkerPrefixes...) && containsAny(name, healthProductKeywords...) {
		return Result{Category: CategoryHealthProduct, Confidence: 0.80, Source: SourceKeyword}
	}

	// Rule 7: default.
	return Result{Category: CategoryDrug, Confidence: 0.50, Source: SourceManual}
}

// classifyApprovalNumber applies the approval-number prefix rules (rule 6).
func classifyApprovalNumber(approvalNumber string) (Result, bool) {
	if approvalNumber == "" {
		return Result{}, false
	}
	switch {
	case approvalDrugPattern.MatchString(approvalNumber):
		return Result{Category: CategoryDrug, Confidence: 1.00, Source: SourceBrowser}, true
	case strings.Contains(approvalNumber, approvalDeviceMarker):
		return Result{Category: CategoryMedicalDevice, Confidence: 1.00, Source: SourceBrowser}, true
	case containsAny(approvalNumber, approvalCosmeticPats...):
		return Result{Category: CategoryCosmetic, Confidence: 1.00, Source: SourceBrowser}, true
	case containsAny(approvalNumber, approvalHealthPats...):
		return Result{Category: CategoryHealthProduct, Confidence: 1.00, Source: SourceBrowser}, true
	default:
		return Result{}, false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
