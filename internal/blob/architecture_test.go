package blob

import (
	"samplecore/testutil"
	"strings"
	"testing"
)

// TestOnlyBlobPackageImportsInfra ensures that only the blob facade wraps the
// infra-backed drivers. Other packages depend on blob.Store instead.
func TestOnlyBlobPackageImportsInfra(t *testing.T) {
	allowed := func(rel string) bool {
		return rel == "internal/blob" || strings.HasPrefix(rel, "internal/infra/blob")
	}
	testutil.AssertNoTreeImports(t, "../..", allowed,
		testutil.PrefixForbidden("samplecore/internal/infra/blob"), "use internal/blob instead of driver packages")
}
