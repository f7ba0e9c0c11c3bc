package assetconnector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetKind_DerivesFromParentDirectory(t *testing.T) {
	assert.Equal(t, "case_study", assetKind("assets/case_study/acme.pdf"))
	assert.Equal(t, "unknown", assetKind("acme.pdf"))
}

func TestBaseName_StripsDirectories(t *testing.T) {
	assert.Equal(t, "acme.pdf", baseName("assets/case_study/acme.pdf"))
	assert.Equal(t, "acme.pdf", baseName("acme.pdf"))
}
