package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hubenschmidt/livesession/internal/integrations"
	"github.com/hubenschmidt/livesession/internal/tools"
)

// toolProvider is implemented by every integration.
type toolProvider interface {
	Tools() []tools.Tool
}

func registerTools(reg *tools.Registry, providers ...toolProvider) error {
	for _, p := range providers {
		for _, t := range p.Tools() {
			if err := reg.Register(t); err != nil {
				return err
			}
		}
	}
	return nil
}

// offlineProviders builds every integration without collaborators. Their
// tools can be listed and validated but not run.
func offlineProviders() []toolProvider {
	ws := integrations.NewWorkspace(nil, nil)
	return []toolProvider{
		ws,
		integrations.NewTimers("", nil),
		integrations.NewWeather(nil),
		integrations.NewDisplay(nil),
		integrations.NewSlack("", "", nil),
		integrations.NewTrello("", "", nil),
		integrations.NewCAD(integrations.CADConfig{}),
		integrations.NewWebAgent("", nil, nil),
		integrations.NewWriter(nil, ws, nil),
		integrations.NewJules(integrations.JulesConfig{}),
	}
}

// printTools lists the catalog with each tool's handler shape and whether
// it needs confirmation.
func printTools(w io.Writer) error {
	cat, err := tools.LoadCatalog()
	if err != nil {
		return err
	}
	reg := tools.NewRegistry()
	if err := registerTools(reg, offlineProviders()...); err != nil {
		return err
	}
	if err := reg.Validate(cat); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSHAPE\tCONFIRM\tDESCRIPTION")
	for _, d := range cat.Declarations() {
		t, _ := reg.Lookup(d.Name)
		confirm := ""
		if tools.Destructive(d.Name) {
			confirm = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, t.Shape, confirm, d.Description)
	}
	return tw.Flush()
}
