package memory

import (
	"samplecore/testutil"
	"testing"
)

func TestImportsAreDomainOrStdlib(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportsExcept("samplecore",
		"samplecore/pkg/domain",
	), "the memory store depends only on the domain")
}
