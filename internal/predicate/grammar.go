package predicate

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Grammar of the rule predicate language.
//
//	expr     := or
//	or       := and (("or" | "||") and)*
//	and      := not (("and" | "&&") not)*
//	not      := ("not" | "!") not | compare
//	compare  := add [ cmpOp add | ["not"] "in" add | "is" ["not"] "null" | "matches" STRING ]
//	add      := mul (("+" | "-") mul)*
//	mul      := unary (("*" | "/") unary)*
//	unary    := ["-"] primary
//	primary  := NUMBER | STRING | true | false | null | call | list | IDENT | "(" expr ")"

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Number", Pattern: `[0-9]+(?:\.[0-9]+)?`},
	{Name: "String", Pattern: `'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Operator", Pattern: `==|!=|<=|>=|&&|\|\||[-+*/<>!(),\[\]]`},
})

var exprParser = participle.MustBuild[exprAST](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(3),
)

type exprAST struct {
	Or *orAST `@@`
}

type orAST struct {
	Left  *andAST   `@@`
	Right []*andAST `( ( "or" | "||" ) @@ )*`
}

type andAST struct {
	Left  *notAST   `@@`
	Right []*notAST `( ( "and" | "&&" ) @@ )*`
}

type notAST struct {
	Negated *notAST     `  ( "not" | "!" ) @@`
	Compare *compareAST `| @@`
}

type compareAST struct {
	Left *addAST       `@@`
	Tail *compareTail `@@?`
}

type compareTail struct {
	Cmp     *cmpAST  `  @@`
	In      *inAST   `| @@`
	Null    *nullAST `| @@`
	Matches *string  `| "matches" @String`
}

type cmpAST struct {
	Op    string  `@( "==" | "!=" | "<=" | ">=" | "<" | ">" )`
	Right *addAST `@@`
}

type inAST struct {
	Negated bool    `@"not"? "in"`
	Set     *addAST `@@`
}

type nullAST struct {
	Negated bool `"is" @"not"? "null"`
}

type addAST struct {
	Left  *mulAST    `@@`
	Right []*addTail `@@*`
}

type addTail struct {
	Op    string  `@( "+" | "-" )`
	Right *mulAST `@@`
}

type mulAST struct {
	Left  *unaryAST  `@@`
	Right []*mulTail `@@*`
}

type mulTail struct {
	Op    string    `@( "*" | "/" )`
	Right *unaryAST `@@`
}

type unaryAST struct {
	Negative bool        `@"-"?`
	Primary  *primaryAST `@@`
}

type primaryAST struct {
	Number *string   `  @Number`
	Str    *string   `| @String`
	True   bool      `| @"true"`
	False  bool      `| @"false"`
	Null   bool      `| @"null"`
	Call   *callAST  `| @@`
	List   *listAST  `| @@`
	Ident  *string   `| @Ident`
	Sub    *exprAST  `| "(" @@ ")"`
}

type callAST struct {
	Name string     `@Ident "("`
	Args []*exprAST `( @@ ( "," @@ )* )? ")"`
}

type listAST struct {
	Open  string     `@"["`
	Items []*exprAST `( @@ ( "," @@ )* )? "]"`
}

// parse turns source text into an AST
func parse(src string) (*exprAST, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty expression")
	}
	ast, err := exprParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	return ast, nil
}

// unquote strips the quotes of a string token and resolves backslash escapes
func unquote(tok string) string {
	if len(tok) < 2 {
		return tok
	}
	body := tok[1 : len(tok)-1]
	if !strings.Contains(body, `\`) {
		return body
	}

	var sb strings.Builder
	sb.Grow(len(body))
	escaped := false
	for _, r := range body {
		if escaped {
			switch r {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			default:
				sb.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
