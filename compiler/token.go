package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the PostC lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenComment // # to end of line

	// Literals
	TokenInteger    // 42
	TokenFloat      // 3.14
	TokenString     // "hello"
	TokenBoolean    // true, false
	TokenIdentifier // foo, read_file

	// Operators
	TokenPlus         // +
	TokenMinus        // -
	TokenStar         // *
	TokenSlash        // /
	TokenLess         // <
	TokenGreater      // >
	TokenLessEqual    // <=
	TokenGreaterEqual // >=
	TokenEqual        // ==
	TokenNotEqual     // !=
	TokenAssign       // =

	// Delimiters
	TokenColon     // :
	TokenSemicolon // ;
	TokenLParen    // (
	TokenRParen    // )
	TokenLBrace    // {
	TokenRBrace    // }
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenComma     // ,

	// Keywords
	TokenLet
	TokenVar
	TokenIf
	TokenElse
	TokenWhile
	TokenDo
	TokenFor
	TokenFn
	TokenParam
	TokenReturn
	TokenPrint

	// Stack operation keywords
	TokenDup
	TokenDrop
	TokenSwap
	TokenOver
	TokenRot
)

var tokenNames = map[TokenType]string{
	TokenEOF:          "EOF",
	TokenError:        "ERROR",
	TokenComment:      "COMMENT",
	TokenInteger:      "INTEGER",
	TokenFloat:        "FLOAT",
	TokenString:       "STRING",
	TokenBoolean:      "BOOLEAN",
	TokenIdentifier:   "IDENTIFIER",
	TokenPlus:         "PLUS",
	TokenMinus:        "MINUS",
	TokenStar:         "MULTIPLY",
	TokenSlash:        "DIVIDE",
	TokenLess:         "LESS",
	TokenGreater:      "GREATER",
	TokenLessEqual:    "LESS_EQUAL",
	TokenGreaterEqual: "GREATER_EQUAL",
	TokenEqual:        "EQUAL",
	TokenNotEqual:     "NOT_EQUAL",
	TokenAssign:       "ASSIGN",
	TokenColon:        "COLON",
	TokenSemicolon:    "SEMICOLON",
	TokenLParen:       "LPAREN",
	TokenRParen:       "RPAREN",
	TokenLBrace:       "LBRACE",
	TokenRBrace:       "RBRACE",
	TokenLBracket:     "LBRACKET",
	TokenRBracket:     "RBRACKET",
	TokenComma:        "COMMA",
	TokenLet:          "LET",
	TokenVar:          "VAR",
	TokenIf:           "IF",
	TokenElse:         "ELSE",
	TokenWhile:        "WHILE",
	TokenDo:           "DO",
	TokenFor:          "FOR",
	TokenFn:           "FN",
	TokenParam:        "PARAM",
	TokenReturn:       "RETURN",
	TokenPrint:        "PRINT",
	TokenDup:          "DUP",
	TokenDrop:         "DROP",
	TokenSwap:         "SWAP",
	TokenOver:         "OVER",
	TokenRot:          "ROT",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsStackOp reports whether t is one of dup, drop, swap, over, rot.
func (t TokenType) IsStackOp() bool {
	return t >= TokenDup && t <= TokenRot
}

// IsOperator reports whether t is an arithmetic, comparison or assignment
// symbol.
func (t TokenType) IsOperator() bool {
	return t >= TokenPlus && t <= TokenAssign
}

// Token represents a lexical token. For strings, Literal holds the decoded
// contents without quotes.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Keywords mapped to their token types.
var keywords = map[string]TokenType{
	"let":    TokenLet,
	"var":    TokenVar,
	"if":     TokenIf,
	"else":   TokenElse,
	"while":  TokenWhile,
	"do":     TokenDo,
	"for":    TokenFor,
	"fn":     TokenFn,
	"param":  TokenParam,
	"return": TokenReturn,
	"print":  TokenPrint,
	"true":   TokenBoolean,
	"false":  TokenBoolean,
	"dup":    TokenDup,
	"drop":   TokenDrop,
	"swap":   TokenSwap,
	"over":   TokenOver,
	"rot":    TokenRot,
}

// LookupIdent returns the keyword token type for ident, or TokenIdentifier.
func LookupIdent(ident string) TokenType {
	if t, ok := keywords[ident]; ok {
		return t
	}
	return TokenIdentifier
}

// Keywords returns every reserved word.
func Keywords() []string {
	words := make([]string, 0, len(keywords))
	for w := range keywords {
		words = append(words, w)
	}
	return words
}
