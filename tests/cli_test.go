package tests_test

import (
	"os"
	"testing"

	"github.com/containerd/nerdctl/mod/tigron/expect"
	"github.com/containerd/nerdctl/mod/tigron/test"

	"github.com/mycophonic/unchain/internal/aaxfixture"
	"github.com/mycophonic/unchain/tests/testutils"
)

func writeCLIFixture(t *testing.T, path string) {
	t.Helper()

	data, err := aaxfixture.Build(aaxfixture.Options{
		Activation:  "1ceb00da",
		SampleRate:  44100,
		Channels:    2,
		CodecConfig: []byte{0x12, 0x10},
		Samples: [][]byte{
			{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
			{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		},
		Duration: 1024,
		Title:    "CLI Test Book",
		Author:   "CLI Author",
		Chapters: []aaxfixture.Chapter{
			{Title: "Chapter One", Duration: 500},
		},
	})
	if err != nil {
		t.Fatalf("aaxfixture.Build: %v", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestConvertCommandSuccess drives the convert subcommand end to end against
// a synthetic AAX fixture, as a black box, the same way saprobe's decode
// subcommand is exercised in mass_decode_test.go.
func TestConvertCommandSuccess(t *testing.T) {
	t.Parallel()

	testCase := testutils.Setup()
	testCase.Description = "convert a synthetic AAX fixture to M4B"

	testCase.Command = func(data test.Data, helpers test.Helpers) test.TestableCommand {
		inputPath := data.Temp().Path("book.aax")
		writeCLIFixture(t, inputPath)
		outDir := data.Temp().Path("out")

		return helpers.Command("convert",
			"--output-dir", outDir,
			"--activation", "1ceb00da",
			"--flat",
			inputPath,
		)
	}

	testCase.Expected = func(_ test.Data, _ test.Helpers) *test.Expected {
		return &test.Expected{
			ExitCode: expect.ExitCodeSuccess,
		}
	}

	testCase.Run(t)
}

// TestConvertCommandBadActivation exercises the CLI's mapping of a wrong
// activation to a non-zero, non-generic exit code (spec §6).
func TestConvertCommandBadActivation(t *testing.T) {
	t.Parallel()

	testCase := testutils.Setup()
	testCase.Description = "reject a wrong activation code"

	testCase.Command = func(data test.Data, helpers test.Helpers) test.TestableCommand {
		inputPath := data.Temp().Path("book.aax")
		writeCLIFixture(t, inputPath)
		outDir := data.Temp().Path("out")

		return helpers.Command("convert",
			"--output-dir", outDir,
			"--activation", "00000000",
			"--flat",
			inputPath,
		)
	}

	testCase.Expected = func(_ test.Data, _ test.Helpers) *test.Expected {
		return &test.Expected{
			ExitCode: 4,
		}
	}

	testCase.Run(t)
}

// TestConvertCommandMissingArgs checks the bad-arguments exit code (spec §6)
// when no input file is given.
func TestConvertCommandMissingArgs(t *testing.T) {
	t.Parallel()

	testCase := testutils.Setup()
	testCase.Description = "reject a convert call with no input file"

	testCase.Command = func(_ test.Data, helpers test.Helpers) test.TestableCommand {
		return helpers.Command("convert")
	}

	testCase.Expected = func(_ test.Data, _ test.Helpers) *test.Expected {
		return &test.Expected{
			ExitCode: 2,
		}
	}

	testCase.Run(t)
}
