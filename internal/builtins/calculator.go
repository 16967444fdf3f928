// ABOUTME: Calculator pack provides arithmetic over a list of numbers.
// ABOUTME: add, subtract, multiply and divide fold the list left to right.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// ErrDivisionByZero is returned by divide when a divisor is zero.
var ErrDivisionByZero = errors.New("division by zero")

type numbersInput struct {
	Numbers []float64 `json:"numbers" jsonschema:"description=Array of numbers to operate on in order"`
}

// CalculatorPack returns the calculator module. Its export is a mapping, one
// descriptor per operation.
func CalculatorPack() tools.Module {
	params := schemaFor[numbersInput]()
	return tools.Module{
		Name: "calculator",
		Export: map[string]*tools.Descriptor{
			"add": {
				Name:        "add",
				Description: "Add a list of numbers",
				Parameters:  params,
				Invoke:      calcAdd,
			},
			"subtract": {
				Name:        "subtract",
				Description: "Subtract the remaining numbers from the first number",
				Parameters:  params,
				Invoke:      calcSubtract,
			},
			"multiply": {
				Name:        "multiply",
				Description: "Multiply a list of numbers",
				Parameters:  params,
				Invoke:      calcMultiply,
			},
			"divide": {
				Name:        "divide",
				Description: "Divide the first number by each of the remaining numbers",
				Parameters:  params,
				Invoke:      calcDivide,
			},
		},
	}
}

func calcAdd(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[numbersInput](args)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	sum := 0.0
	for _, n := range in.Numbers {
		sum += n
	}
	return map[string]float64{"sum": sum}, nil
}

func calcSubtract(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[numbersInput](args)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if len(in.Numbers) == 0 {
		return map[string]float64{"difference": 0}, nil
	}
	difference := in.Numbers[0]
	for _, n := range in.Numbers[1:] {
		difference -= n
	}
	return map[string]float64{"difference": difference}, nil
}

func calcMultiply(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[numbersInput](args)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	product := 1.0
	for _, n := range in.Numbers {
		product *= n
	}
	return map[string]float64{"product": product}, nil
}

func calcDivide(ctx context.Context, args json.RawMessage) (any, error) {
	in, err := decode[numbersInput](args)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if len(in.Numbers) == 0 {
		return map[string]float64{"quotient": 0}, nil
	}
	quotient := in.Numbers[0]
	for _, n := range in.Numbers[1:] {
		if n == 0 {
			return nil, ErrDivisionByZero
		}
		quotient /= n
	}
	return map[string]float64{"quotient": quotient}, nil
}
