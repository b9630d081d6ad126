package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
)

func newSlotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Open and inspect consultation slots",
	}
	cmd.AddCommand(newSlotsGenerateCommand())
	cmd.AddCommand(newSlotsListCommand())
	return cmd
}

// slotWindow is one hour-long slot to open on a date.
type slotWindow struct {
	date       caltime.Date
	start, end caltime.TimeOfDay
}

// hourlyWindows splits [dayStart, dayEnd) on every date from..to into
// one-hour windows. A trailing partial hour is dropped.
func hourlyWindows(from, to caltime.Date, dayStart, dayEnd caltime.TimeOfDay) ([]slotWindow, error) {
	if to.Before(from) {
		return nil, errors.New("--to is before --from")
	}
	if dayEnd.Sub(dayStart) < time.Hour {
		return nil, errors.New("working day is shorter than one slot")
	}

	var out []slotWindow
	for d := from; !d.After(to); d = d.AddDays(1) {
		for t := dayStart; t.Add(time.Hour) <= dayEnd; t = t.Add(time.Hour) {
			out = append(out, slotWindow{date: d, start: t, end: t.Add(time.Hour)})
		}
	}
	return out, nil
}

func newSlotsGenerateCommand() *cobra.Command {
	var consultant, from, to, dayStart, dayEnd string
	var pool bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Open hourly slots for a consultant, or the pool, over a date range",
		Example: `  schedctl slots generate --consultant 6f1c... --from 01/05/2025 --to 07/05/2025
  schedctl slots generate --pool --from 01/05/2025 --to 01/05/2025 --start 13:00 --end 17:00`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var consultantID uuid.UUID
			if !pool {
				id, err := uuid.Parse(consultant)
				if err != nil {
					return fmt.Errorf("--consultant: %w", err)
				}
				consultantID = id
			}

			windows, err := parseWindows(from, to, dayStart, dayEnd)
			if err != nil {
				return err
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			svc := e.service()

			created, skipped := 0, 0
			for _, w := range windows {
				if pool {
					_, err = svc.CreatePoolSlot(cmd.Context(), w.date, w.start, w.end)
				} else {
					_, err = svc.CreateSlot(cmd.Context(), consultantID, w.date, w.start, w.end)
				}
				switch {
				case err == nil:
					created++
				case errors.Is(err, appointment.ErrDuplicateSlot), errors.Is(err, appointment.ErrPastDateTime):
					skipped++
				default:
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %d slots, skipped %d\n", created, skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&consultant, "consultant", "", "consultant user id")
	cmd.Flags().BoolVar(&pool, "pool", false, "open unassigned pool slots instead")
	cmd.Flags().StringVar(&from, "from", "", "first date, dd/MM/yyyy")
	cmd.Flags().StringVar(&to, "to", "", "last date, dd/MM/yyyy (defaults to --from)")
	cmd.Flags().StringVar(&dayStart, "start", "08:00", "start of the working day")
	cmd.Flags().StringVar(&dayEnd, "end", "17:00", "end of the working day")
	cmd.MarkFlagsMutuallyExclusive("consultant", "pool")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func parseWindows(from, to, dayStart, dayEnd string) ([]slotWindow, error) {
	if to == "" {
		to = from
	}
	fromDate, err := caltime.ParseDate(from)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	toDate, err := caltime.ParseDate(to)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	start, err := caltime.ParseTimeOfDay(dayStart)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}
	end, err := caltime.ParseTimeOfDay(dayEnd)
	if err != nil {
		return nil, fmt.Errorf("--end: %w", err)
	}
	return hourlyWindows(fromDate, toDate, start, end)
}

func newSlotsListCommand() *cobra.Command {
	var consultant, date string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available slots on one date, or on every upcoming date with --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			var consultantID *uuid.UUID
			if consultant != "" {
				id, err := uuid.Parse(consultant)
				if err != nil {
					return fmt.Errorf("--consultant: %w", err)
				}
				consultantID = &id
			}
			if all && consultantID == nil {
				return errors.New("--all needs --consultant")
			}

			var day *caltime.Date
			if date != "" {
				d, err := caltime.ParseDate(date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				day = &d
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()
			svc := e.service()

			var slots []appointment.Slot
			if all {
				slots, err = svc.ListConsultantSlots(cmd.Context(), *consultantID)
			} else {
				slots, err = svc.ListAvailableSlots(cmd.Context(), consultantID, day)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tSTART\tEND\tAVAILABLE")
			for _, s := range slots {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", s.ID, s.Date, s.StartTime, s.EndTime, s.Available)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&consultant, "consultant", "", "consultant user id; omit for pool slots")
	cmd.Flags().StringVar(&date, "date", "", "only this date, dd/MM/yyyy")
	cmd.Flags().BoolVar(&all, "all", false, "every upcoming date instead of one")
	return cmd
}
