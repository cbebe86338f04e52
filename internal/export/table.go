// Package export renders a quiz's submissions as a flat table and writes it
// as CSV or XLSX.
package export

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/proctorquiz/internal/model"
	"github.com/stemsi/proctorquiz/internal/scoring"
)

// Table is a header row plus data rows, all as display strings.
type Table struct {
	Header []string
	Rows   [][]string
}

// BuildTable lays out one row per submission. Registration columns follow
// the quiz's form field order; keys that no field declares are appended in
// alphabetical order.
func BuildTable(q *model.Quiz, subs []model.Submission) Table {
	columns := registrationColumns(q.FormFields, subs)

	header := make([]string, 0, len(columns)+8)
	header = append(header, "Submitted At")
	header = append(header, columns...)
	header = append(header, "Status", "Total Score", "Max Score", "Pass Percentage",
		"Passed", "Elapsed Seconds", "Violations")

	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		row := make([]string, 0, len(header))
		row = append(row, s.SubmittedAt.UTC().Format(time.RFC3339))
		for _, col := range columns {
			row = append(row, model.RegistrationValue(s.Registration, col))
		}
		row = append(row,
			string(s.Status),
			formatFloat(s.TotalScore),
			formatFloat(s.MaxScore),
			strconv.FormatFloat(scoring.Percentage(s.TotalScore, s.MaxScore), 'f', 2, 64),
			strconv.FormatBool(scoring.Passed(s.TotalScore, s.MaxScore, q.Settings.PassingPercentage)),
			strconv.Itoa(s.ElapsedSeconds),
			strconv.Itoa(len(s.Violations)),
		)
		rows = append(rows, row)
	}
	return Table{Header: header, Rows: rows}
}

func registrationColumns(fields []model.FormField, subs []model.Submission) []string {
	columns := make([]string, 0, len(fields))
	declared := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		columns = append(columns, f.Name)
		declared[strings.ToLower(f.Name)] = struct{}{}
	}

	extra := make(map[string]struct{})
	for _, s := range subs {
		for k := range s.Registration {
			if _, ok := declared[strings.ToLower(k)]; !ok {
				extra[k] = struct{}{}
			}
		}
	}
	rest := make([]string, 0, len(extra))
	for k := range extra {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(columns, rest...)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
