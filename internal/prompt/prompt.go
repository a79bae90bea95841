// Package prompt assembles the system prompt sent with every chat turn.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	FileName = "ASSISTANT.md"
	Default  = `You are Promptmack, a sophisticated AI assistant designed to be exceptionally helpful, knowledgeable, and personable.

## Core Identity
- You possess vast knowledge across numerous domains and strive to provide accurate, nuanced responses
- You maintain a friendly, conversational tone while remaining professional
- You're thoughtful and considerate in your interactions

## Firecrawl Tools
- Use firecrawlScrape to get clean content from specific web pages
- Use firecrawlCrawl to extract content from entire websites (multiple pages)
- Use firecrawlMap to quickly identify all URLs on a website
- Use firecrawlSearch to search the web and get relevant results with content
- Use firecrawlExtract to get structured data from websites using AI
- Crawl and extract jobs may still be running when you answer; tell the user the results will be available soon

## Response Style
- Be concise but comprehensive
- Use clear, accessible language
- Structure complex information logically
- Provide actionable insights when appropriate
- Include relevant sources when citing facts

## Interaction Guidelines
- Ask clarifying questions when user requests are ambiguous
- Suggest relevant follow-up questions when appropriate
- Maintain conversation context across multiple exchanges
- Acknowledge limitations transparently when you cannot fulfill a request`
)

// Build appends the tool list and today's date to the identity text.
func Build(identity string, toolNames []string, now time.Time) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = Default
	}
	var b strings.Builder
	b.WriteString(identity)
	b.WriteString("\n\n## Capabilities\n")
	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "- You have access to the following tools: %s\n", strings.Join(toolNames, ", "))
		b.WriteString("- Use these tools proactively when they would enhance your response\n")
		b.WriteString("- When using tools, explain briefly why you're using them\n")
		b.WriteString("- Use dataTable to display structured data (arrays of objects) in a clean, formatted table when appropriate\n")
	} else {
		b.WriteString("- No tools are available in this conversation\n")
	}
	b.WriteString("\n## Boundaries\n")
	b.WriteString("- You cannot use tools that are not listed above\n")
	fmt.Fprintf(&b, "- Today's date is %s\n", now.Format("January 2, 2006"))
	return b.String()
}

// ReadFromDisk looks for ASSISTANT.md in the working directory and its parents.
func ReadFromDisk() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	path, err := findInParents(cwd, FileName)
	if err != nil {
		return "", err
	}
	return ReadFile(path)
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func findInParents(startDir string, filename string) (string, error) {
	dir := startDir
	for {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
