package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"LingLongTa/internal/model"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

const notAvailable = "N/A"

type OutputFormatter struct {
	format string
	out    io.Writer
}

func NewOutputFormatter(format string, out io.Writer) *OutputFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &OutputFormatter{format: strings.ToLower(format), out: out}
}

// ValidFormat 检查输出格式是否支持
func ValidFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json", "csv":
		return true
	}
	return false
}

// PrintPage 输出一页CVE列表
func (of *OutputFormatter) PrintPage(page model.CVEPage) error {
	switch of.format {
	case "json":
		return of.writeJSON(page)
	case "csv":
		return of.pageCSV(page)
	default:
		return of.pageText(page)
	}
}

// PrintHistory 输出导入历史
func (of *OutputFormatter) PrintHistory(runs []model.IngestRun) error {
	switch of.format {
	case "json":
		return of.writeJSON(runs)
	case "csv":
		return of.historyCSV(runs)
	default:
		return of.historyText(runs)
	}
}

func (of *OutputFormatter) writeJSON(v interface{}) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(of.out, string(jsonBytes))
	return err
}

func displayStatus(status string) string {
	if status == "" {
		return notAvailable
	}
	return status
}

func displayScore(m model.Metrics) string {
	score, ok := m.BaseScore()
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(score, 'f', 1, 64)
}

// colorSeverity 按严重等级着色
func colorSeverity(severity string) string {
	switch severity {
	case "HIGH":
		return color.RedString(severity)
	case "MEDIUM":
		return color.YellowString(severity)
	case "LOW":
		return color.GreenString(severity)
	case "":
		return "-"
	default:
		return severity
	}
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewBlueprint(tw.Rendition{
			Settings: tw.Settings{Separators: tw.Separators{BetweenRows: tw.Off}},
		})),
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
	)
}

func (of *OutputFormatter) pageText(page model.CVEPage) error {
	fmt.Fprintf(of.out, "\n%s\n", color.CyanString("CVE 列表 第 %d/%d 页，共 %d 条", page.CurrentPage, page.TotalPages, page.TotalRecords))

	if len(page.CVEs) == 0 {
		fmt.Fprintln(of.out, "没有记录")
		return nil
	}

	table := newTable(of.out)
	table.Header([]string{"ID", "发布时间", "修改时间", "状态", "CVSS v2", "风险等级"})
	for _, cve := range page.CVEs {
		if err := table.Append([]string{
			cve.ID,
			cve.Published,
			cve.LastModified,
			displayStatus(cve.VulnStatus),
			displayScore(cve.Metrics),
			colorSeverity(cve.Metrics.Severity()),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (of *OutputFormatter) pageCSV(page model.CVEPage) error {
	writer := csv.NewWriter(of.out)

	// 写入表头
	writer.Write([]string{"id", "published", "lastModified", "vulnStatus", "baseScore", "severity"})
	for _, cve := range page.CVEs {
		writer.Write([]string{
			cve.ID,
			cve.Published,
			cve.LastModified,
			displayStatus(cve.VulnStatus),
			displayScore(cve.Metrics),
			cve.Metrics.Severity(),
		})
	}

	writer.Flush()
	return writer.Error()
}

func (of *OutputFormatter) historyText(runs []model.IngestRun) error {
	if len(runs) == 0 {
		fmt.Fprintln(of.out, "暂无导入记录")
		return nil
	}

	table := newTable(of.out)
	table.Header([]string{"开始时间", "数据源", "状态", "获取", "写入", "错误"})
	for _, run := range runs {
		status := color.GreenString(string(run.Status))
		if run.Status != model.IngestSucceeded {
			status = color.RedString(string(run.Status))
		}
		if err := table.Append([]string{
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.Source,
			status,
			strconv.Itoa(run.RecordsFetched),
			strconv.Itoa(run.RecordsStored),
			truncate(run.Error, 60),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func (of *OutputFormatter) historyCSV(runs []model.IngestRun) error {
	writer := csv.NewWriter(of.out)

	writer.Write([]string{"id", "source", "startedAt", "finishedAt", "status", "recordsFetched", "recordsStored", "error"})
	for _, run := range runs {
		writer.Write([]string{
			run.ID,
			run.Source,
			run.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
			run.FinishedAt.UTC().Format("2006-01-02T15:04:05Z"),
			string(run.Status),
			strconv.Itoa(run.RecordsFetched),
			strconv.Itoa(run.RecordsStored),
			run.Error,
		})
	}

	writer.Flush()
	return writer.Error()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return string(r)
}
