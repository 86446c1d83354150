package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/syncer"
	"github.com/dmitrijs2005/planbook/internal/dbx"
)

// Sync runs a pass now, or waits for the one already running.
func (a *App) Sync(ctx context.Context) error {
	res := a.coord.SyncOnce(ctx)

	switch res.Status {
	case syncer.OutcomeSuccess:
		printlnFn(fmt.Sprintf("Synced: pushed %d, parked %d, pulled %d, applied %d",
			res.Pushed, res.Parked, res.Pulled, res.Applied))
	case syncer.OutcomeOffline:
		printlnFn("Server unreachable, changes stay queued:", res.Error)
	default:
		msg := "Sync failed: " + res.Error
		if res.Retryable {
			msg += " (will retry)"
		}
		printlnFn(msg)
	}
	return nil
}

func (a *App) Status(ctx context.Context) error {
	st, err := a.coord.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "state:\t%s\n", st.State)
	fmt.Fprintf(w, "online:\t%t\n", st.Online)
	last := "never"
	if st.LastSyncedAt != nil {
		last = st.LastSyncedAt.In(time.Local).Format(time.DateTime)
	}
	fmt.Fprintf(w, "last sync:\t%s\n", last)
	if st.LastError != "" {
		fmt.Fprintf(w, "last error:\t%s\n", st.LastError)
	}
	fmt.Fprintf(w, "pending:\t%d\n", st.Pending)
	fmt.Fprintf(w, "parked:\t%d\n", st.Parked)
	return w.Flush()
}

// Parked lists the changes the server refused.
func (a *App) Parked(ctx context.Context) error {
	items, err := a.coord.Outbox().ListParked(ctx, a.db)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		printlnFn("Nothing parked")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tOP\tKIND\tENTITY\tATTEMPTS\tREASON")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(it.ID), it.Op, it.Kind, shortID(it.LocalID), it.AttemptCount, it.LastError)
	}
	return w.Flush()
}

// Retry puts a parked change back in the queue and asks for a pass.
func (a *App) Retry(ctx context.Context, arg string) error {
	id, err := a.parkedID(ctx, arg)
	if err != nil {
		return err
	}
	if err := a.coord.Outbox().Unpark(ctx, a.db, id); err != nil {
		return err
	}
	a.scheduler.Trigger()
	printlnFn("Queued again")
	return nil
}

// Discard drops a parked change for good.
func (a *App) Discard(ctx context.Context, arg string) error {
	id, err := a.parkedID(ctx, arg)
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return a.coord.Outbox().Discard(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	printlnFn("Discarded")
	return nil
}

func (a *App) parkedID(ctx context.Context, arg string) (string, error) {
	items, err := a.coord.Outbox().ListParked(ctx, a.db)
	if err != nil {
		return "", err
	}
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return resolveID(arg, ids)
}
