package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/planbook/internal/client/models"
)

func (a *App) ask(prompt string) (string, error) {
	return GetSimpleText(a.reader, prompt, a.out)
}

// clearMark is the edit answer that empties an optional field.
const clearMark = "-"

// textAnswer turns an edit answer into a patch field: blank keeps the
// current value, clearMark empties it when the field is optional.
func textAnswer(ans, cur string, optional bool) *string {
	if ans == "" || ans == cur {
		return nil
	}
	if ans == clearMark && optional {
		if cur == "" {
			return nil
		}
		ans = ""
	}
	return &ans
}

func (a *App) Categories(ctx context.Context) error {
	cats, err := a.planner.ListCategories(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOLOR\tICON\tSERVER")
	for _, c := range cats {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(c.LocalID), c.Name, c.Color, c.Icon, serverMark(&c.Meta))
	}
	return w.Flush()
}

func (a *App) AddCategory(ctx context.Context) error {
	var c models.Category
	var err error
	if c.Name, err = a.ask("Name"); err != nil {
		return err
	}
	if c.Color, err = a.ask("Color (optional)"); err != nil {
		return err
	}
	if c.Icon, err = a.ask("Icon (optional)"); err != nil {
		return err
	}

	created, err := a.planner.CreateCategory(ctx, &c)
	if err != nil {
		return err
	}
	printlnFn("Created category", shortID(created.LocalID))
	return nil
}

func (a *App) EditCategory(ctx context.Context, arg string) error {
	id, err := a.categoryID(ctx, arg)
	if err != nil {
		return err
	}
	cur, err := a.planner.GetCategory(ctx, id)
	if err != nil {
		return err
	}

	var p models.CategoryPatch
	name, err := a.ask(fmt.Sprintf("Name [%s]", cur.Name))
	if err != nil {
		return err
	}
	p.Name = textAnswer(name, cur.Name, false)
	color, err := a.ask(fmt.Sprintf("Color [%s] ('-' clears)", cur.Color))
	if err != nil {
		return err
	}
	p.Color = textAnswer(color, cur.Color, true)
	icon, err := a.ask(fmt.Sprintf("Icon [%s] ('-' clears)", cur.Icon))
	if err != nil {
		return err
	}
	p.Icon = textAnswer(icon, cur.Icon, true)

	if _, err := a.planner.UpdateCategory(ctx, id, &p); err != nil {
		return err
	}
	printlnFn("Saved")
	return nil
}

func (a *App) DeleteCategory(ctx context.Context, arg string) error {
	id, err := a.categoryID(ctx, arg)
	if err != nil {
		return err
	}
	if err := a.planner.DeleteCategory(ctx, id); err != nil {
		return err
	}
	printlnFn("Deleted")
	return nil
}

func (a *App) Tasks(ctx context.Context) error {
	tasks, err := a.planner.ListTasks(ctx)
	if err != nil {
		return err
	}
	cats, err := a.planner.ListCategories(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.LocalID] = c.Name
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDONE\tTITLE\tCATEGORY\tDUE\tPRIO\tSERVER")
	for _, t := range tasks {
		done := ""
		if t.Done {
			done = "x"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(t.LocalID), done, t.Title, names[t.CategoryID], formatTime(t.DueAt), t.Priority, serverMark(&t.Meta))
	}
	return w.Flush()
}

func (a *App) AddTask(ctx context.Context) error {
	var t models.Task
	var err error
	if t.Title, err = a.ask("Title"); err != nil {
		return err
	}

	cat, err := a.ask("Category id (optional)")
	if err != nil {
		return err
	}
	if cat != "" {
		if t.CategoryID, err = a.categoryID(ctx, cat); err != nil {
			return err
		}
	}

	due, err := a.ask(fmt.Sprintf("Due %s (optional)", TimeLayout))
	if err != nil {
		return err
	}
	if due != "" {
		d, err := parseTime(due)
		if err != nil {
			return err
		}
		t.DueAt = &d
	}

	prio, err := a.ask("Priority (optional)")
	if err != nil {
		return err
	}
	if prio != "" {
		if t.Priority, err = parseInt(prio); err != nil {
			return err
		}
	}

	if t.Notes, err = GetMultiline(a.reader, "Notes", a.out); err != nil {
		return err
	}

	created, err := a.planner.CreateTask(ctx, &t)
	if err != nil {
		return err
	}
	printlnFn("Created task", shortID(created.LocalID))
	return nil
}

func (a *App) EditTask(ctx context.Context, arg string) error {
	id, err := a.taskID(ctx, arg)
	if err != nil {
		return err
	}
	cur, err := a.planner.GetTask(ctx, id)
	if err != nil {
		return err
	}

	var p models.TaskPatch
	title, err := a.ask(fmt.Sprintf("Title [%s]", cur.Title))
	if err != nil {
		return err
	}
	p.Title = textAnswer(title, cur.Title, false)

	cat, err := a.ask(fmt.Sprintf("Category [%s] ('-' clears)", shortIDOrEmpty(cur.CategoryID)))
	if err != nil {
		return err
	}
	switch cat {
	case "":
	case clearMark:
		p.CategoryID = textAnswer(clearMark, cur.CategoryID, true)
	default:
		catID, err := a.categoryID(ctx, cat)
		if err != nil {
			return err
		}
		p.CategoryID = textAnswer(catID, cur.CategoryID, false)
	}

	due, err := a.ask(fmt.Sprintf("Due [%s] ('-' clears)", formatTime(cur.DueAt)))
	if err != nil {
		return err
	}
	switch due {
	case "":
	case clearMark:
		if cur.DueAt != nil {
			p.DueAt = &time.Time{}
		}
	default:
		d, err := parseTime(due)
		if err != nil {
			return err
		}
		p.DueAt = &d
	}

	prio, err := a.ask(fmt.Sprintf("Priority [%d]", cur.Priority))
	if err != nil {
		return err
	}
	if prio != "" {
		n, err := parseInt(prio)
		if err != nil {
			return err
		}
		if n != cur.Priority {
			p.Priority = &n
		}
	}

	notes, err := a.ask("Notes (blank keeps, '-' clears)")
	if err != nil {
		return err
	}
	p.Notes = textAnswer(notes, cur.Notes, true)

	if _, err := a.planner.UpdateTask(ctx, id, &p); err != nil {
		return err
	}
	printlnFn("Saved")
	return nil
}

// CompleteTask marks the task done.
func (a *App) CompleteTask(ctx context.Context, arg string) error {
	id, err := a.taskID(ctx, arg)
	if err != nil {
		return err
	}
	done := true
	if _, err := a.planner.UpdateTask(ctx, id, &models.TaskPatch{Done: &done}); err != nil {
		return err
	}
	printlnFn("Done")
	return nil
}

func (a *App) DeleteTask(ctx context.Context, arg string) error {
	id, err := a.taskID(ctx, arg)
	if err != nil {
		return err
	}
	if err := a.planner.DeleteTask(ctx, id); err != nil {
		return err
	}
	printlnFn("Deleted")
	return nil
}

func (a *App) Blocks(ctx context.Context) error {
	blocks, err := a.planner.ListTimeBlocks(ctx)
	if err != nil {
		return err
	}
	tasks, err := a.planner.ListTasks(ctx)
	if err != nil {
		return err
	}
	titles := make(map[string]string, len(tasks))
	for _, t := range tasks {
		titles[t.LocalID] = t.Title
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTS\tENDS\tLABEL\tTASK\tSERVER")
	for _, b := range blocks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(b.LocalID), formatTime(&b.StartsAt), formatTime(&b.EndsAt), b.Label, titles[b.TaskID], serverMark(&b.Meta))
	}
	return w.Flush()
}

func (a *App) AddBlock(ctx context.Context) error {
	var b models.TimeBlock
	var err error
	if b.Label, err = a.ask("Label (optional)"); err != nil {
		return err
	}

	task, err := a.ask("Task id (optional)")
	if err != nil {
		return err
	}
	if task != "" {
		if b.TaskID, err = a.taskID(ctx, task); err != nil {
			return err
		}
	}

	if b.StartsAt, err = a.askTime(fmt.Sprintf("Starts %s", TimeLayout)); err != nil {
		return err
	}
	if b.EndsAt, err = a.askTime(fmt.Sprintf("Ends %s", TimeLayout)); err != nil {
		return err
	}

	created, err := a.planner.CreateTimeBlock(ctx, &b)
	if err != nil {
		return err
	}
	printlnFn("Created block", shortID(created.LocalID))
	return nil
}

func (a *App) EditBlock(ctx context.Context, arg string) error {
	id, err := a.blockID(ctx, arg)
	if err != nil {
		return err
	}
	cur, err := a.planner.GetTimeBlock(ctx, id)
	if err != nil {
		return err
	}

	var p models.TimeBlockPatch
	label, err := a.ask(fmt.Sprintf("Label [%s] ('-' clears)", cur.Label))
	if err != nil {
		return err
	}
	p.Label = textAnswer(label, cur.Label, true)

	task, err := a.ask(fmt.Sprintf("Task [%s] ('-' clears)", shortIDOrEmpty(cur.TaskID)))
	if err != nil {
		return err
	}
	switch task {
	case "":
	case clearMark:
		p.TaskID = textAnswer(clearMark, cur.TaskID, true)
	default:
		taskID, err := a.taskID(ctx, task)
		if err != nil {
			return err
		}
		p.TaskID = textAnswer(taskID, cur.TaskID, false)
	}

	for _, f := range []struct {
		name string
		cur  time.Time
		dst  **time.Time
	}{{"Starts", cur.StartsAt, &p.StartsAt}, {"Ends", cur.EndsAt, &p.EndsAt}} {
		ans, err := a.ask(fmt.Sprintf("%s [%s]", f.name, formatTime(&f.cur)))
		if err != nil {
			return err
		}
		if ans == "" {
			continue
		}
		t, err := parseTime(ans)
		if err != nil {
			return err
		}
		*f.dst = &t
	}

	if _, err := a.planner.UpdateTimeBlock(ctx, id, &p); err != nil {
		return err
	}
	printlnFn("Saved")
	return nil
}

func (a *App) DeleteBlock(ctx context.Context, arg string) error {
	id, err := a.blockID(ctx, arg)
	if err != nil {
		return err
	}
	if err := a.planner.DeleteTimeBlock(ctx, id); err != nil {
		return err
	}
	printlnFn("Deleted")
	return nil
}

func (a *App) askTime(prompt string) (time.Time, error) {
	ans, err := a.ask(prompt)
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(ans)
}

func (a *App) categoryID(ctx context.Context, arg string) (string, error) {
	cats, err := a.planner.ListCategories(ctx)
	if err != nil {
		return "", err
	}
	return resolveID(arg, localIDs(cats))
}

func (a *App) taskID(ctx context.Context, arg string) (string, error) {
	tasks, err := a.planner.ListTasks(ctx)
	if err != nil {
		return "", err
	}
	return resolveID(arg, localIDs(tasks))
}

func (a *App) blockID(ctx context.Context, arg string) (string, error) {
	blocks, err := a.planner.ListTimeBlocks(ctx)
	if err != nil {
		return "", err
	}
	return resolveID(arg, localIDs(blocks))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(time.Local).Format(TimeLayout)
}

func shortIDOrEmpty(id string) string {
	if id == "" {
		return ""
	}
	return shortID(id)
}
