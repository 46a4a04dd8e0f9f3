package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timelineDataset() Dataset {
	return Dataset{
		Headers: []string{"at", "kind", "action"},
		Rows: []map[string]string{
			{"at": "2024-07-01T08:00:00Z", "kind": "LIFECYCLE", "action": "CREATED"},
			{"at": "2024-08-01T08:00:00Z", "kind": "FIELD", "action": "teacher_id, with a comma"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(timelineDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "at,kind,action", lines[0])
	assert.Contains(t, lines[2], `"teacher_id, with a comma"`)

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)

	_, err = NewCSVExporter().Render(Dataset{Headers: []string{"at", "at"}})
	assert.Error(t, err)
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	data := Dataset{
		Headers: []string{"reason", "to"},
		Rows:    []map[string]string{{"reason": "=HYPERLINK(\"x\")", "to": "-"}, {"reason": "moved"}},
	}
	var buf bytes.Buffer
	exporter := &CSVExporter{UseCRLF: true}
	require.NoError(t, exporter.Write(&buf, data))

	lines := strings.Split(buf.String(), "\r\n")
	assert.Equal(t, "reason,to", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `"'=HYPERLINK(""x"")",'`), lines[1])
	assert.Equal(t, "moved,", lines[2])
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(timelineDataset(), PDFOptions{Title: "Timeline", Subtitle: "student-1", Landscape: true})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", f.ContentType())
	assert.Equal(t, "timeline.pdf", f.Filename("timeline"))

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}
