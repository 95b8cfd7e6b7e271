package sqlite

import (
	"samplecore/testutil"
	"testing"
)

func TestImportsStayWithinPersistence(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ModuleImportsExcept("samplecore",
		"samplecore/pkg/domain",
		"samplecore/internal/infra/persistence/memory",
	), "snapshot stores build on the memory store")
}
