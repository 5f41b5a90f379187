package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

type CalculatorInput struct {
	Expression string `json:"expression" jsonschema_description:"Arithmetic expression, for example (2 + 3) * 4 or sqrt(16)."`
}

var CalculatorInputSchema = GenerateSchema[CalculatorInput]()

func CalculatorTool() Tool {
	return Tool{
		Name:         "calculator",
		Description:  "Useful for basic math. Evaluates an arithmetic expression.",
		InputSchema:  CalculatorInputSchema,
		PrimaryField: "expression",
		Call:         Calculate,
	}
}

var mathEnv = map[string]any{
	"pi":    math.Pi,
	"e":     math.E,
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"log":   math.Log,
	"log10": math.Log10,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"exp":   math.Exp,
}

// Calculate evaluates the expression. Evaluation failures are returned as "Error: ..."
// text so the model can read and correct them.
func Calculate(_ context.Context, input json.RawMessage) (string, error) {
	var in CalculatorInput
	if err := json.Unmarshal(input, &in); err != nil {
		return "", err
	}
	src := strings.TrimSpace(in.Expression)
	if src == "" {
		return "Error: empty expression", nil
	}

	program, err := expr.Compile(src, expr.Env(mathEnv))
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	out, err := expr.Run(program, mathEnv)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return formatResult(out), nil
}

func formatResult(v any) string {
	switch n := v.(type) {
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return strconv.FormatFloat(n, 'g', -1, 64)
		}
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatFloat(n, 'f', 1, 64)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
