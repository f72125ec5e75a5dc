package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atvirokodosprendimai/authsource/internal/domain"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func printRules(items []domain.FlowClassificationRule) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.Parent.String(),
			strconv.FormatInt(item.SupplierAppID, 10),
			strconv.FormatInt(item.DataTypeID, 10),
			strconv.FormatInt(item.ClassificationID, 10),
			strconv.FormatBool(item.IsReadonly),
			formatTime(item.LastUpdatedAt),
		})
	}
	printTable([]string{"ID", "PARENT", "SUPPLIER", "DATA_TYPE", "CLASSIFICATION", "READONLY", "UPDATED_AT"}, rows)
}

func printRule(item domain.FlowClassificationRule) {
	printKV([][2]string{
		{"id", strconv.FormatInt(item.ID, 10)},
		{"parent", item.Parent.String()},
		{"supplier", strconv.FormatInt(item.SupplierAppID, 10)},
		{"data_type", strconv.FormatInt(item.DataTypeID, 10)},
		{"classification", strconv.FormatInt(item.ClassificationID, 10)},
		{"description", item.Description},
		{"provenance", item.Provenance},
		{"external_id", item.ExternalID},
		{"readonly", strconv.FormatBool(item.IsReadonly)},
		{"updated_at", formatTime(item.LastUpdatedAt)},
		{"updated_by", item.LastUpdatedBy},
	})
}

func printSweepReport(report domain.SweepReport) {
	printKV([][2]string{
		{"run_id", report.RunID},
		{"rows_examined", strconv.Itoa(report.RowsExamined)},
		{"rows_updated", strconv.Itoa(report.RowsUpdated)},
		{"batches_failed", strconv.Itoa(report.BatchesFailed)},
		{"cancelled", strconv.FormatBool(report.Cancelled)},
	})
}

func printOrphanCleanup(result domain.OrphanCleanupResult) {
	deleted := make([]string, 0, len(result.DeletedRuleIDs))
	for _, id := range result.DeletedRuleIDs {
		deleted = append(deleted, strconv.FormatInt(id, 10))
	}
	printKV([][2]string{
		{"deleted_rules", strings.Join(deleted, ",")},
	})
	rows := make([][]string, 0, len(result.Bereaved))
	for _, ref := range result.Bereaved {
		rows = append(rows, []string{string(ref.Kind), strconv.FormatInt(ref.ID, 10)})
	}
	printTable([]string{"BEREAVED_KIND", "BEREAVED_ID"}, rows)
}

func printDiscouragedSources(items []domain.DiscouragedSource) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.Supplier.ID, 10),
			strconv.FormatInt(item.DataTypeID, 10),
			strconv.Itoa(item.FlowCount),
		})
	}
	printTable([]string{"SUPPLIER", "DATA_TYPE", "FLOWS"}, rows)
}

func printConsumers(items []domain.RuleConsumer) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.RuleID, 10),
			strconv.FormatInt(item.AppID, 10),
			item.AppName,
		})
	}
	printTable([]string{"RULE", "APP_ID", "APP_NAME"}, rows)
}

func printClassifications(items []domain.FlowClassification) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			item.Code,
			item.Name,
			strconv.FormatBool(item.IsPositive),
		})
	}
	printTable([]string{"ID", "CODE", "NAME", "POSITIVE"}, rows)
}

func printChangeLog(items []domain.ChangeLogEntry) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatInt(item.ID, 10),
			string(item.Operation),
			string(item.EntityKind),
			strconv.FormatInt(item.EntityID, 10),
			item.Actor,
			item.Message,
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "OP", "KIND", "ENTITY", "ACTOR", "MESSAGE", "AT"}, rows)
}
