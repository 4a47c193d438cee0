package nl2sql

import (
	"strings"

	"github.com/querydesk/querydesk/internal/lexicon"
	"github.com/querydesk/querydesk/internal/schema"
)

// Directives included verbatim in every prompt.
const (
	DirectiveSelectOnly       = "Generate only a single SELECT statement. Never produce INSERT, UPDATE, DELETE, DROP, ALTER or any other statement."
	DirectiveNoInvention      = "Use only tables and columns that appear in the schema listing. Never invent a table or column."
	DirectiveQuoteIdentifiers = `Wrap any identifier that contains an uppercase letter or an underscore in double quotes, for example "PO_Pending".`
	DirectiveBoundedResults   = "When the question implies aggregation, the latest records or pending items, add a WHERE clause or a LIMIT to bound the result."
)

const schemaUnavailableNote = "Schema unavailable: no catalog snapshot has been loaded yet. Use only tables named in the domain rules below."

// BuildPrompt assembles the generation prompt from the catalog snapshot, the
// resolved domain rules and the question. The first rule names the primary
// table.
func BuildPrompt(question string, snapshot *schema.Snapshot, rules []lexicon.MappingRule) string {
	var b strings.Builder

	b.WriteString("You write PostgreSQL queries for a business reporting assistant.\n\n")

	b.WriteString("## Schema\n")
	if !snapshot.Initialized() {
		b.WriteString(schemaUnavailableNote)
		b.WriteString("\n")
	} else {
		b.WriteString("table_name\tcolumn_name\tdata_type\n")
		for _, column := range snapshot.Columns() {
			b.WriteString(column.TableName)
			b.WriteByte('\t')
			b.WriteString(column.ColumnName)
			b.WriteByte('\t')
			b.WriteString(column.DataType)
			b.WriteByte('\n')
		}
	}

	if len(rules) > 0 {
		b.WriteString("\n## Domain rules\n")
		for i, rule := range rules {
			if i == 0 {
				b.WriteString("- Primary table: \"" + rule.Table + "\" (vocabulary: " + quoteList(rule.Triggers) + ").\n")
			} else {
				b.WriteString("- Related table: \"" + rule.Table + "\" (vocabulary: " + quoteList(rule.Triggers) + ").\n")
			}
			for _, hint := range rule.Hints {
				b.WriteString("  - " + hint + "\n")
			}
		}
	}

	b.WriteString("\n## Rules\n")
	for _, directive := range []string{
		DirectiveSelectOnly,
		DirectiveNoInvention,
		DirectiveQuoteIdentifiers,
		DirectiveBoundedResults,
	} {
		b.WriteString("- " + directive + "\n")
	}
	b.WriteString("- Return only the SQL statement.\n")

	b.WriteString("\n## Question\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	return b.String()
}

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, value := range values {
		quoted[i] = "'" + value + "'"
	}
	return strings.Join(quoted, ", ")
}
