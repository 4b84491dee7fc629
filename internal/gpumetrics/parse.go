package gpumetrics

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/nautilusbot/nautilus/internal/types"
)

const (
	// DefaultRowClass is the CSS class Grafana renders on each table row of the
	// namespace GPU dashboard.
	DefaultRowClass = "css-8fjwhi-row"

	cellClassFragment = "cellContainerOverflow"
	gaugeID           = "flotGaugeValue"
)

// Dashboard is the parsed content of one namespace's GPU dashboard.
type Dashboard struct {
	Pods []PodGPU
	// CurrentUsage is the namespace-wide gauge text, "" when absent.
	CurrentUsage string
}

// ParseDashboard extracts pod GPU rows from rendered dashboard HTML. Rows
// with fewer than four cells are skipped.
func ParseDashboard(r io.Reader, namespace, rowClass string) (*Dashboard, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse dashboard html: %w", err)
	}
	if rowClass == "" {
		rowClass = DefaultRowClass
	}

	d := &Dashboard{}
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if n.Data == "span" && attr(n, "id") == gaugeID && d.CurrentUsage == "" {
			d.CurrentUsage = text(n)
			return false
		}
		if n.Data == "div" && hasClass(n, rowClass) {
			if pod, ok := parseRow(n, namespace); ok {
				d.Pods = append(d.Pods, pod)
			}
			return false
		}
		return true
	})
	return d, nil
}

func parseRow(row *html.Node, namespace string) (PodGPU, bool) {
	var cells []string
	walk(row, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "div" && strings.Contains(attr(n, "class"), cellClassFragment) {
			cells = append(cells, text(n))
			return false
		}
		return true
	})
	if len(cells) < 4 || cells[1] == "" {
		return PodGPU{}, false
	}
	requested, _ := strconv.Atoi(cells[2])
	return PodGPU{
		Namespace:   namespace,
		Model:       cells[0],
		PodName:     cells[1],
		Requested:   requested,
		Utilization: parsePercent(cells[3]),
	}, true
}

// parsePercent reads "12.5%" or "12.5". Anything else is unknown.
func parsePercent(s string) types.Percent {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return types.Percent{}
	}
	return types.PercentOf(v)
}

// walk visits n and its descendants depth first. Returning false from fn
// skips the node's children.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return strings.TrimSpace(b.String())
}
