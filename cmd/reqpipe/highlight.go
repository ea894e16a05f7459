package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
)

// printJSON writes v as indented JSON, highlighted when color is set.
func printJSON(w io.Writer, v any, color bool) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	text := string(data)
	if color {
		if highlighted, err := highlight(text); err == nil {
			text = highlighted
		}
	}
	_, err = fmt.Fprintln(w, strings.TrimRight(text, "\n"))
	return err
}

func highlight(code string) (string, error) {
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var out strings.Builder
	if err := formatter.Format(&out, style, iterator); err != nil {
		return code, err
	}
	return out.String(), nil
}
