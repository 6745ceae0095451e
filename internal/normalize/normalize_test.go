package normalize

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeptide(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"dosage suffix", "BPC-157 5mg", "BPC157"},
		{"already canonical", "BPC157", "BPC157"},
		{"spaced", "bpc 157", "BPC157"},
		{"label prefix and parenthesized dose", "Peptide: BPC-157 (10 mg)", "BPC157"},
		{"fullwidth characters", "ＢＰＣ-157", "BPC157"},
		{"micrograms", "BPC-157 500µg", "BPC157"},
		{"tb alias", "TB-500", "TB500"},
		{"thymosin", "Thymosin Beta-4", "TB500"},
		{"ghk", "GHK Cu 50mg", "GHK-Cu"},
		{"short code", "Sema 5mg", "Semaglutide"},
		{"nad plus", "NAD+ 500mg", "NAD+"},
		{"iu dose", "Qitrope 10 IU", "HGH"},
		{"digits in name", "5-Amino-1MQ 50mg", "5-Amino-1MQ"},
		{"protocol", "GLOW 70mg", "GLOW"},
		{"blend plus", "BPC-157 + TB-500", "BPC157+TB500"},
		{"blend slash reversed", "TB500/BPC157", "BPC157+TB500"},
		{"blend ampersand", "BPC157 & GHK-Cu", "BPC157+GHK-Cu"},
		{"blend and", "TB500 and BPC157 10mg", "BPC157+TB500"},
		{"unmatched code", "ss-31 10mg", "SS-31"},
		{"unmatched words", "foo   peptide", "Foo Peptide"},
		{"unmatched acronym", "glow blend", "GLOW Blend"},
		{"empty", "", Unknown},
		{"only dose", " 10mg ", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Peptide(tt.raw))
		})
	}
}

func TestPeptide_SpellingsAgree(t *testing.T) {
	assert.Equal(t, Peptide("BPC-157 5mg"), Peptide("BPC157"))
	assert.Equal(t, Peptide("GLP-2TZ"), Peptide("tirzepatide 10mg"))
}

func TestSupplier(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"www domain", "www.mandybio.com", "Mandy Bio"},
		{"display name", "Mandy Bio", "Mandy Bio"},
		{"full url", "https://www.mandybio.com/", "Mandy Bio"},
		{"upper case domain", "MANDYBIO.COM", "Mandy Bio"},
		{"typo alias", "www.meipepetide.com", "Mei Peptide"},
		{"telegram link", "https://t.me/glasscompounds", Unknown},
		{"whatsapp", "WhatsApp +31 6 22738233", Unknown},
		{"handle", "@thegreyhq (telegram)", Unknown},
		{"empty", "   ", Unknown},
		{"unmatched name", "  acme   peptides  llc ", "Acme Peptides LLC"},
		{"unmatched small word", "house of peptides", "House of Peptides"},
		{"unmatched domain kept", "NewVendor.com", "newvendor.com"},
		{"unmatched url kept", "https://NewVendor.com/", "https://newvendor.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Supplier(tt.raw))
		})
	}
}

func TestSuggest(t *testing.T) {
	got, err := Suggest(KindPeptide, "semag", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "Semaglutide", got[0].Name)
	assert.LessOrEqual(t, len(got), 3)

	got, err = Suggest(KindSupplier, "mandy", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Mandy Bio", got[0].Name)

	got, err = Suggest(KindPeptide, "  ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Suggest(Kind("batch"), "x", 5)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Run("conflicting spelling", func(t *testing.T) {
		_, err := Load([]byte("peptides:\n  A: [x]\n  B: [x]\n"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load([]byte("peptides: [unclosed"))
		assert.Error(t, err)
	})

	t.Run("custom table", func(t *testing.T) {
		table, err := Load([]byte("peptides:\n  Foo-1: [foo one]\nsuppliers:\n  Acme: [acme.io]\n"))
		require.NoError(t, err)
		assert.Equal(t, "Foo-1", table.Peptide("FOO ONE 5mg"))
		assert.Equal(t, "Foo-1", table.Peptide("foo1"))
		assert.Equal(t, "Acme", table.Supplier("www.acme.io/"))
	})

	t.Run("embedded aliases load", func(t *testing.T) {
		table, err := Load(defaultAliases)
		require.NoError(t, err)

		tests := map[string]string{
			"Jinan Elitepeptide Chemical Co., Ltd.":        "Jinan Elitepeptide",
			"jinan elitepeptide chemical co., ltd":         "Jinan Elitepeptide",
			"Jilin Qijian Biotechnology Co., Ltd":          "Jilin Qijian",
			"Lilitide Co., Ltd":                            "Lilitide",
			"Shanghai Alimopeptide Biotechnology Co., Ltd": "Shanghai Alimopeptide",
			"Yiwu Weide Trading Co., Ltd":                  "Yiwu Weide Trading",
		}
		for raw, want := range tests {
			assert.Equal(t, want, table.Supplier(raw), raw)
		}
		assert.NotEqual(t, "Lilitide", table.Supplier("ltd"))
	})

	t.Run("embedded", func(t *testing.T) {
		names := Default().Peptides()
		assert.True(t, sort.StringsAreSorted(names))
		assert.Contains(t, names, "BPC157")
		assert.Contains(t, Default().Suppliers(), "Mandy Bio")
	})
}

func TestIsKnownPeptide(t *testing.T) {
	assert.True(t, IsKnownPeptide("BPC-157 10mg"))
	assert.True(t, IsKnownPeptide("GLOW"))
	assert.False(t, IsKnownPeptide("Purity"))
	assert.False(t, IsKnownPeptide(""))
}

func TestPeptideComponents(t *testing.T) {
	assert.Equal(t, []string{"BPC157", "TB500"}, PeptideComponents("TB-500 / BPC-157 10mg"))
	assert.Equal(t, []string{"GLOW"}, PeptideComponents("Glow 70mg"))
	assert.Equal(t, []string{"NAD+"}, PeptideComponents("NAD+"))
	assert.Equal(t, []string{Unknown}, PeptideComponents(""))
}
