/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"strings"
	"unicode"
)

// splitSQLStatements splits a migration file on top-level semicolons. Quoted
// strings, dollar-quoted bodies and comments are honored; comments are dropped.
func splitSQLStatements(content string) []string {
	var (
		p   sqlSplitter
		out []string
	)

	for i := 0; i < len(content); {
		i = p.step(content, i)

		if p.terminated {
			if stmt := strings.TrimSpace(p.buf.String()); stmt != "" {
				out = append(out, stmt)
			}

			p.buf.Reset()
			p.terminated = false
		}
	}

	if stmt := strings.TrimSpace(p.buf.String()); stmt != "" {
		out = append(out, stmt)
	}

	return out
}

type sqlSplitter struct {
	buf          strings.Builder
	single       bool
	double       bool
	lineComment  bool
	blockComment bool
	dollarTag    string
	terminated   bool
}

// step consumes input starting at i and returns the next index.
func (p *sqlSplitter) step(s string, i int) int {
	ch := s[i]

	switch {
	case p.lineComment:
		if ch == '\n' {
			p.lineComment = false
			p.buf.WriteByte(ch)
		}

		return i + 1
	case p.blockComment:
		if strings.HasPrefix(s[i:], "*/") {
			p.blockComment = false
			return i + 2
		}

		return i + 1
	case p.dollarTag != "":
		if strings.HasPrefix(s[i:], p.dollarTag) {
			p.buf.WriteString(p.dollarTag)
			next := i + len(p.dollarTag)
			p.dollarTag = ""

			return next
		}

		p.buf.WriteByte(ch)

		return i + 1
	}

	if !p.single && !p.double {
		switch {
		case strings.HasPrefix(s[i:], "--"):
			p.lineComment = true
			return i + 2
		case strings.HasPrefix(s[i:], "/*"):
			p.blockComment = true
			return i + 2
		}

		if tag := dollarTag(s[i:]); tag != "" {
			p.dollarTag = tag
			p.buf.WriteString(tag)

			return i + len(tag)
		}

		if ch == ';' {
			p.terminated = true
			return i + 1
		}
	}

	switch {
	case ch == '\'' && !p.double:
		p.single = !p.single
	case ch == '"' && !p.single:
		p.double = !p.double
	}

	p.buf.WriteByte(ch)

	return i + 1
}

// dollarTag returns the $tag$ opener at the start of s, or "".
func dollarTag(s string) string {
	if s == "" || s[0] != '$' {
		return ""
	}

	for i := 1; i < len(s); i++ {
		if s[i] == '$' {
			return s[:i+1]
		}

		if s[i] != '_' && !unicode.IsLetter(rune(s[i])) && !unicode.IsDigit(rune(s[i])) {
			return ""
		}
	}

	return ""
}
