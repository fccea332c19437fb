package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cgwgpt/pharmaceutical-price-discovery/internal/classify"
)

func TestClassify_RxMarkerWins(t *testing.T) {
	r := classify.Classify(classify.Input{Name: "阿莫西林胶囊(RX)", Manufacturer: "某某化妆品厂"})
	assert.Equal(t, classify.CategoryDrug, r.Category)
	assert.Equal(t, 1.00, r.Confidence)
	assert.Equal(t, classify.SourceKeyword, r.Source)
}

func TestClassify_CosmeticManufacturer(t *testing.T) {
	r := classify.Classify(classify.Input{Name: "美白精华", Manufacturer: "广州某某化妆品有限公司"})
	assert.Equal(t, classify.CategoryCosmetic, r.Category)
	assert.Equal(t, 0.95, r.Confidence)
}

func TestClassify_CosmeticKeyword(t *testing.T) {
	r := classify.Classify(classify.Input{Name: "皇后牌 片仔癀 珍珠霜 25g"})
	assert.Equal(t, classify.CategoryCosmetic, r.Category)
	assert.GreaterOrEqual(t, r.Confidence, 0.90)
}

func TestClassify_DrugRXScenario(t *testing.T) {
	r := classify.Classify(classify.Input{Name: "片仔癀 3g*1粒(RX)"})
	assert.Equal(t, classify.CategoryDrug, r.Category)
	assert.Equal(t, 1.00, r.Confidence)
}

func TestClassify_DosageForm(t *testing.T) {
	r := classify.Classify(classify.Input{Name: "布洛芬缓释胶囊"})
	assert.Equal(t, classify.CategoryDrug, r.Category)
	assert.Equal(t, 0.85, r.Confidence)
}

func TestClassify_HealthProduct(t *testing.T) {
	r := classify.Classify(classify.Input{Name: "保健品复合维生素"})
	assert.Equal(t, classify.CategoryHealthProduct, r.Category)
	assert.Equal(t, 0.80, r.Confidence)
}

func TestClassify_ApprovalNumberOverridesKeywordRules(t *testing.T) {
	// Name alone would match the cosmetic keyword list (rule 3), but an
	// approval number with the medical-device prefix must override it.
	r := classify.Classify(classify.Input{
		Name:           "面霜型医用敷料",
		ApprovalNumber: "国械注准20212345678",
	})
	assert.Equal(t, classify.CategoryMedicalDevice, r.Category)
	assert.Equal(t, 1.00, r.Confidence)
	assert.Equal(t, classify.SourceBrowser, r.Source)
}

func TestClassify_Default(t *testing.T) {
	r := classify.Classify(classify.Input{Name: "未知产品"})
	assert.Equal(t, classify.CategoryDrug, r.Category)
	assert.Equal(t, 0.50, r.Confidence)
	assert.Equal(t, classify.SourceManual, r.Source)
}

func TestClassify_Totality(t *testing.T) {
	closedCategories := map[classify.Category]bool{
		classify.CategoryDrug: true, classify.CategoryCosmetic: true,
		classify.CategoryMedicalDevice: true, classify.CategoryHealthProduct: true,
		classify.CategoryUnknown: true,
	}
	closedSources := map[classify.Source]bool{
		classify.SourceAPI: true, classify.SourceKeyword: true,
		classify.SourceBrowser: true, classify.SourceManual: true,
	}
	inputs := []classify.Input{
		{},
		{Name: "随便写点什么"},
		{Name: "", Manufacturer: "", ApprovalNumber: "garbage"},
	}
	for _, in := range inputs {
		r := classify.Classify(in)
		assert.True(t, closedCategories[r.Category])
		assert.True(t, closedSources[r.Source])
		assert.GreaterOrEqual(t, r.Confidence, 0.0)
		assert.LessOrEqual(t, r.Confidence, 1.0)
	}
}

func TestClassify_StableAcrossRepeatedCalls(t *testing.T) {
	in := classify.Input{Name: "阿莫西林胶囊(RX)"}
	first := classify.Classify(in)
	second := classify.Classify(in)
	assert.Equal(t, first.Category, second.Category)
	assert.Equal(t, first.Source, second.Source)
}
