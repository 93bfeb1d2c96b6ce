package containerizer

import (
	"io"
	"os"
	"testing"

	"platformctl/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitForCLI(logging.LevelDebug, io.Discard)
	os.Exit(m.Run())
}
