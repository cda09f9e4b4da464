package tracker

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/trackd/trackd/internal/models"
)

// RowError reports a failure for one data row of a CSV import. Rows are
// 1-indexed, counting from the first row after the header.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// ImportResult summarizes a CSV import.
type ImportResult struct {
	Total   int        `json:"total"`
	Created int        `json:"created"`
	Failed  []RowError `json:"failed"`
}

// ImportCSV streams issue rows from r. The header row must contain "title"
// and "description" columns; a "status" column is optional and defaults to
// open. Each row is created independently: a bad row is recorded in the
// failure list and the import continues, leaving issues from earlier rows in
// place. No history entries are written for imported issues.
//
// With enrich set, rows whose description cell is empty get one drafted from
// the title, the same way CreateIssue does. Drafting is best-effort and
// requires a configured LLM client.
func (s *Service) ImportCSV(ctx context.Context, r io.Reader, enrich bool) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // rows may be ragged; missing cells fail per-row

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed header row: %v", ErrInvalidInput, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	titleCol, ok := cols["title"]
	if !ok {
		return nil, fmt.Errorf("%w: header is missing a title column", ErrInvalidInput)
	}
	descCol, ok := cols["description"]
	if !ok {
		return nil, fmt.Errorf("%w: header is missing a description column", ErrInvalidInput)
	}
	statusCol, hasStatus := cols["status"]

	result := &ImportResult{Failed: []RowError{}}
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		result.Total++
		if err != nil {
			result.Failed = append(result.Failed, RowError{Row: row, Error: err.Error()})
			continue
		}

		if rowErr := s.importRow(ctx, record, titleCol, descCol, statusCol, hasStatus, enrich); rowErr != "" {
			result.Failed = append(result.Failed, RowError{Row: row, Error: rowErr})
			continue
		}
		result.Created++
	}

	return result, nil
}

// importRow creates one issue from a CSV record, returning an error message
// on failure.
func (s *Service) importRow(ctx context.Context, record []string, titleCol, descCol, statusCol int, hasStatus, enrich bool) string {
	cell := func(i int) (string, bool) {
		if i >= len(record) {
			return "", false
		}
		return record[i], true
	}

	title, ok := cell(titleCol)
	if !ok || strings.TrimSpace(title) == "" {
		return "title is required"
	}
	description, ok := cell(descCol)
	if !ok {
		return "description is required"
	}

	status := models.IssueStatusOpen
	if hasStatus {
		if raw, ok := cell(statusCol); ok && strings.TrimSpace(raw) != "" {
			status = models.IssueStatus(strings.TrimSpace(raw))
			if !models.ValidStatus(status) {
				return fmt.Sprintf("unknown status %q", raw)
			}
		}
	}

	if enrich && s.llm != nil && strings.TrimSpace(description) == "" {
		if desc, err := s.llm.DraftDescription(ctx, title); err == nil {
			description = desc
		}
	}

	issue := &models.Issue{
		Title:       title,
		Description: description,
		Status:      status,
	}
	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return err.Error()
	}
	return ""
}
