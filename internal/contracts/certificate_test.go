package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestCertificateValidate(t *testing.T) {
	base := func() *Certificate {
		return &Certificate{TaskNumber: "1001", ImageHash: "abc"}
	}

	tests := []struct {
		name    string
		mutate  func(c *Certificate)
		wantErr bool
	}{
		{"valid", func(c *Certificate) {}, false},
		{"missing task", func(c *Certificate) { c.TaskNumber = "" }, true},
		{"missing hash", func(c *Certificate) { c.ImageHash = "" }, true},
		{"purity over 100", func(c *Certificate) { c.PurityPercentage = ptr(100.5) }, true},
		{"purity boundary", func(c *Certificate) { c.PurityPercentage = ptr(100) }, false},
		{"blend without components", func(c *Certificate) { c.IsBlend = true }, true},
		{"components without blend", func(c *Certificate) {
			c.BlendComponents = []BlendComponent{{Peptide: "BPC157"}}
		}, true},
		{"replicates without flag", func(c *Certificate) {
			c.ReplicateMeasurements = []ReplicateMeasurement{{Parameter: "purity", Value: 99}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, QualityHot, LabelFor(80))
	assert.Equal(t, QualityGood, LabelFor(79.99))
	assert.Equal(t, QualityMediocre, LabelFor(40))
	assert.Equal(t, QualityPoor, LabelFor(12))
}

func TestWeightsValidate(t *testing.T) {
	ok := Weights{Volume: .20, Quality: .25, Accuracy: .20, Consistency: .15, Recency: .10, Testing: .10}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Testing = .2
	assert.Error(t, bad.Validate())

	neg := ok
	neg.Volume = -.1
	neg.Quality = .55
	assert.Error(t, neg.Validate())
}
