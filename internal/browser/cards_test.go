package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSupplierCards_SkipsCardsMissingNameOrPrice(t *testing.T) {
	raw := `[
		{"name":"阿莫西林胶囊","price":"12.50","supplier_name":"甲供应商"},
		{"name":"","price":"9.00","supplier_name":"乙供应商"},
		{"name":"布洛芬片","price":"","supplier_name":"丙供应商"}
	]`

	offers, err := parseSupplierCards(raw, "阿莫西林")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "阿莫西林胶囊", offers[0].Name)
	assert.Equal(t, "12.50", offers[0].Price)
	assert.Equal(t, "甲供应商", offers[0].SupplierName)
}

func TestParseSupplierCards_TrimsWhitespace(t *testing.T) {
	raw := `[{"name":"  阿莫西林胶囊  ","price":" 12.50 ","manufacturer":" 某药厂 "}]`
	offers, err := parseSupplierCards(raw, "阿莫西林")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "阿莫西林胶囊", offers[0].Name)
	assert.Equal(t, "某药厂", offers[0].Manufacturer)
}

func TestParseSupplierCards_InvalidJSONReturnsError(t *testing.T) {
	_, err := parseSupplierCards("not json", "keyword")
	require.Error(t, err)
}

func TestParseSupplierCards_EmptyArrayYieldsEmptySlice(t *testing.T) {
	offers, err := parseSupplierCards("[]", "keyword")
	require.NoError(t, err)
	assert.Empty(t, offers)
}
