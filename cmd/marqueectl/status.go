package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/marquee-signage/marquee/internal/marquee"
	"github.com/marquee-signage/marquee/internal/netmon"
	"github.com/marquee-signage/marquee/internal/pairing"
	"github.com/marquee-signage/marquee/internal/playback"
	"github.com/urfave/cli/v3"
)

func statusTableFields() []TableField {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	var fields []TableField
	fields = append(fields, TableField{Header: "STATUS", Field: "Status"})
	fields = append(fields, TableField{Header: "PAIRING", Formatter: func(item interface{}) string {
		s := item.(marquee.Status)
		switch s.Pairing {
		case pairing.KindPaired:
			return green("paired")
		case pairing.KindPairing:
			return yellow("code " + s.PairingCode)
		case pairing.KindError:
			return red("error")
		default:
			return string(s.Pairing)
		}
	}})
	fields = append(fields, TableField{Header: "DISPLAY", Field: "DisplayID"})
	fields = append(fields, TableField{Header: "NETWORK", Formatter: func(item interface{}) string {
		n := item.(marquee.Status).Network
		switch n.State {
		case netmon.Online:
			return green(fmt.Sprintf("online (%s)", n.Latency.Round(time.Millisecond)))
		case netmon.Degraded:
			return yellow(fmt.Sprintf("degraded (%s)", n.Latency.Round(time.Millisecond)))
		default:
			return red("offline")
		}
	}})
	fields = append(fields, TableField{Header: "CONTENT", Formatter: func(item interface{}) string {
		s := item.(marquee.Status)
		if s.Playback.ContentKey == "" {
			return string(s.Screen.Kind)
		}
		return s.Playback.ContentKey
	}})
	fields = append(fields, TableField{Header: "LAST HEARTBEAT", Formatter: func(item interface{}) string {
		hb := item.(marquee.Status).Heartbeat
		if hb == nil || hb.LastSuccess.IsZero() {
			return "-"
		}
		return humanize.Time(hb.LastSuccess)
	}})
	fields = append(fields, TableField{Header: "CACHE", Formatter: func(item interface{}) string {
		c := item.(marquee.Status).Cache
		if c.MaxBytes == 0 {
			return fmt.Sprintf("%d files, %s", c.Entries, humanize.IBytes(uint64(c.Bytes)))
		}
		return fmt.Sprintf("%d files, %s of %s", c.Entries, humanize.IBytes(uint64(c.Bytes)), humanize.IBytes(uint64(c.MaxBytes)))
	}})
	fields = append(fields, TableField{Header: "RENDERERS", Field: "Renderers"})
	return fields
}

func cmdStatus(ctx context.Context, command *cli.Command) error {
	status, err := marquee.CtlStatus(command.String("unix-socket"))
	if err != nil {
		return err
	}
	show(command, statusTableFields(), status)
	if status.Message != "" && command.String("output") == encodeColumn {
		fmt.Printf("\n%s\n", status.Message)
	}
	return nil
}

func zoneTableFields() []TableField {
	var fields []TableField
	fields = append(fields, TableField{Header: "ZONE", Field: "Name"})
	fields = append(fields, TableField{Header: "ITEM", Formatter: func(item interface{}) string {
		z := item.(playback.ZoneStatus)
		if z.Items == 0 {
			return "-"
		}
		return fmt.Sprintf("%d/%d", z.Index+1, z.Items)
	}})
	fields = append(fields, TableField{Header: "MEDIA", Field: "Current"})
	fields = append(fields, TableField{Header: "ACTIVE", Field: "Active"})
	return fields
}

func cmdZones(ctx context.Context, command *cli.Command) error {
	status, err := marquee.CtlStatus(command.String("unix-socket"))
	if err != nil {
		return err
	}
	zones := status.Playback.Zones
	if zones == nil {
		zones = []playback.ZoneStatus{}
	}
	show(command, zoneTableFields(), zones)
	return nil
}
