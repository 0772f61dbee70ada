package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kode4food/tartan/internal/engine"
	"github.com/kode4food/tartan/pkg/api"
)

type (
	lineItem struct {
		SKU   string  `json:"sku"`
		Qty   int     `json:"qty"`
		Price float64 `json:"price"`
	}

	orderInput struct {
		Items []lineItem `json:"items"`
	}

	greetAllInput struct {
		Names []string `json:"names"`
	}
)

const (
	defaultTaxRate    = 0.08
	priorityThreshold = 20

	orderTotalScript = `
local sum = 0
for _, item in ipairs(items) do
	sum = sum + item.qty * item.price
end
return sum * (1 + tax_rate)
`

	orderPriorityScript = "(> total threshold)"
)

// demoFlows are the flows the binary serves out of the box
func demoFlows() []*engine.Definition {
	return []*engine.Definition{
		{Name: "greet", Body: greetFlow},
		{Name: "order", Body: orderFlow},
		{Name: "greet-all", Body: greetAllFlow},
	}
}

func greetFlow(c *engine.Context) (any, error) {
	name := c.Input().Get("name").String()
	if name == "" {
		name = "world"
	}
	msg, err := c.Step("compose", func(context.Context) (any, error) {
		return "hello, " + name, nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.Page("greeting", map[string]any{"message": msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// orderFlow prices an order with a Lua step, flags large orders with an
// Ale step and, when a charge service is configured through
// CHARGE_ENDPOINT, charges it remotely
func orderFlow(c *engine.Context) (any, error) {
	var in orderInput
	if err := c.Input().Decode(&in); err != nil {
		return nil, err
	}
	items := in.Items
	err := c.Page("received", map[string]any{"items": len(items)})
	if err != nil {
		return nil, err
	}

	args := api.Args{
		"items":    items,
		"tax_rate": defaultTaxRate,
	}
	total, err := c.Script("total", api.ScriptConfig{
		Language: api.ScriptLangLua,
		Script:   orderTotalScript,
	}, args)
	if err != nil {
		return nil, err
	}

	priority, err := c.Script("priority", api.ScriptConfig{
		Language: api.ScriptLangAle,
		Script:   orderPriorityScript,
	}, api.Args{"total": total, "threshold": priorityThreshold})
	if err != nil {
		return nil, err
	}

	receipt := api.Value(nil)
	if endpoint, ok := c.Env("CHARGE_ENDPOINT"); ok && endpoint != "" {
		receipt, err = c.Call("charge", endpoint,
			api.Args{"amount": total.Any()},
			engine.WithRetries(3),
			engine.WithTimeout(30*time.Second),
			engine.WithBackoff(api.BackoffConfig{
				Type:      api.BackoffTypeExponential,
				InitialMs: 500,
				MaxMs:     10 * api.Second,
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	return nil, c.Complete(api.Completion{
		Title:   "Order placed",
		Content: fmt.Sprintf("%d item(s), total %s", len(items), total),
		Data: api.MustValue(map[string]any{
			"total":    total,
			"priority": priority,
			"receipt":  receipt,
		}),
	})
}

// greetAllFlow spawns a greet child run for every name in the input
func greetAllFlow(c *engine.Context) (any, error) {
	var in greetAllInput
	if err := c.Input().Decode(&in); err != nil {
		return nil, err
	}
	names := in.Names

	res := make([]api.Value, 0, len(names))
	for i, name := range names {
		step := api.StepName(fmt.Sprintf("greet-%d", i))
		out, err := c.SpawnChild(step, "greet",
			map[string]string{"name": name},
			engine.WithRetries(1),
		)
		if err != nil {
			return nil, err
		}
		res = append(res, out)
	}

	if err := c.Page("summary", map[string]any{"count": len(res)}); err != nil {
		return nil, err
	}
	return res, nil
}
