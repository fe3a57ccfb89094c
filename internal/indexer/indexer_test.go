package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oxhq/coqu/internal/types"
)

func loadFixtureLines(t *testing.T, name string) []string {
	t.Helper()
	path := filepath.Join("..", "..", "tests", "fixtures", name)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}

func TestBuildDivisionsSample(t *testing.T) {
	lines := loadFixtureLines(t, "sample.cbl")
	idx := Build(lines)

	require.Len(t, idx.Divisions, 4)
	require.Equal(t, types.DivisionIdentification, idx.Divisions[0].Name)
	require.Equal(t, 1, idx.Divisions[0].Span.Start)
}

func TestBuildParagraphsSample(t *testing.T) {
	lines := loadFixtureLines(t, "sample.cbl")
	idx := Build(lines)

	want := []string{
		"0000-MAIN-PARA", "1000-INIT-PARA", "1100-READ-FIRST",
		"2000-PROCESS-PARA", "2100-VALIDATE", "2200-UPDATE", "3000-CLEANUP-PARA",
	}
	var got []string
	for _, p := range idx.Paragraphs {
		got = append(got, p.Name)
	}
	require.Equal(t, want, got)
}

func TestBuildDataItemsNestedLevels(t *testing.T) {
	lines := loadFixtureLines(t, "sample.cbl")
	idx := Build(lines)

	var counters, recordCount *types.DataItem
	for i := range idx.DataItems {
		if idx.DataItems[i].Name == "WS-COUNTERS" {
			counters = &idx.DataItems[i]
		}
		if idx.DataItems[i].Name == "WS-RECORD-COUNT" {
			recordCount = &idx.DataItems[i]
		}
	}
	require.NotNil(t, counters)
	require.NotNil(t, recordCount)
	require.Equal(t, counters.Line, recordCount.ParentLine)
}

func TestBuildConditionNameBindsToNonLevel88Parent(t *testing.T) {
	lines := loadFixtureLines(t, "sample.cbl")
	idx := Build(lines)

	var flag, cond *types.DataItem
	for i := range idx.DataItems {
		if idx.DataItems[i].Name == "WS-EOF-FLAG" {
			flag = &idx.DataItems[i]
		}
		if idx.DataItems[i].Name == "WS-EOF" {
			cond = &idx.DataItems[i]
		}
	}
	require.NotNil(t, flag)
	require.NotNil(t, cond)
	require.Equal(t, 88, cond.Level)
	require.Equal(t, flag.Line, cond.ParentLine)
}

func TestBuildEmptyProcedureDivisionYieldsNoParagraphs(t *testing.T) {
	lines := []string{
		"       IDENTIFICATION DIVISION.",
		"       PROGRAM-ID. EMPTY.",
		"       PROCEDURE DIVISION.",
	}
	idx := Build(lines)
	require.Empty(t, idx.Paragraphs)
}

func TestBuildMalformedLineIsIgnoredNotFatal(t *testing.T) {
	lines := []string{
		"       IDENTIFICATION DIVISION.",
		"???not a cobol line at all???",
		"       PROCEDURE DIVISION.",
	}
	idx := Build(lines)
	require.Len(t, idx.Divisions, 2)
}
