package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/justsurfingit/jobtracker/internal/client"
	"github.com/justsurfingit/jobtracker/internal/draft"
	"github.com/justsurfingit/jobtracker/internal/dtos"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/events"
	"github.com/justsurfingit/jobtracker/internal/models"
	"github.com/justsurfingit/jobtracker/internal/querycache"
	"github.com/justsurfingit/jobtracker/internal/views"
	"golang.org/x/sync/errgroup"
	"go.uber.org/zap"
)

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := a.flags("list")
	search := fs.String("search", "", "match title or company")
	status := fs.String("status", views.All, "status to show")
	year := fs.String("year", views.All, "year applied, e.g. 2024")
	month := fs.String("month", views.All, "month applied, e.g. March")
	group := fs.Bool("group", false, "group by year and month")
	years := fs.Bool("years", false, "list the years with applications")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.load(ctx); err != nil {
		return err
	}

	if *years {
		for _, y := range views.AvailableYears(a.cache.Read().Jobs()) {
			a.printf("%d\n", y)
		}
		return nil
	}

	jobs := views.Filter{Search: *search, Status: *status, Year: *year, Month: *month}.Apply(a.cache.Read().Jobs())
	if len(jobs) == 0 {
		a.printf("no applications\n")
		return nil
	}
	if !*group {
		a.printJobs(jobs)
		return nil
	}
	for _, yg := range views.Group(jobs) {
		for _, mg := range yg.Months {
			a.printf("%s %d (%d)\n", mg.Month, yg.Year, len(mg.Jobs))
			a.printJobs(mg.Jobs)
			a.printf("\n")
		}
	}
	return nil
}

func (a *app) printJobs(jobs []models.Job) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAPPLIED\tCOMPANY\tTITLE\tTAGS")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Status, j.DateApplied, j.Company, j.Title, strings.Join(j.TechStack, ", "))
	}
	tw.Flush()
}

func cmdStats(ctx context.Context, a *app, args []string) error {
	fs := a.flags("stats")
	asJSON := fs.Bool("json", false, "print as JSON")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.load(ctx); err != nil {
		return err
	}

	st := views.ComputeStats(a.cache.Read().Jobs(), a.now())
	if *asJSON {
		return a.printJSON(st)
	}

	a.printf("Applications:   %d\n", st.Total)
	a.printf("Interviews:     %d (%.1f%% conversion)\n", st.Interviews, st.ConversionRate)
	a.printf("Offers:         %d\n", st.Offers)
	a.printf("Rejected:       %d\n", st.Rejected)
	a.printf("This week:      %d (%+d vs last week)\n", st.ThisWeek, st.WeekGrowth)

	days := make([]string, 0, len(st.Last7Days))
	for _, d := range st.Last7Days {
		days = append(days, fmt.Sprintf("%s %d", d.Label, d.Count))
	}
	a.printf("Last 7 days:    %s\n", strings.Join(days, " | "))

	if len(st.TopTags) > 0 {
		tags := make([]string, 0, len(st.TopTags))
		for _, t := range st.TopTags {
			tags = append(tags, fmt.Sprintf("%s (%d)", t.Name, t.Count))
		}
		a.printf("Top tech:       %s\n", strings.Join(tags, ", "))
	}
	if len(st.Stale) > 0 {
		a.printf("Needs follow-up:\n")
		for _, s := range st.Stale {
			a.printf("  #%d %s at %s, %d days ago\n", s.Job.ID, s.Job.Title, s.Job.Company, s.DaysSince)
		}
	}
	return nil
}

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Internal("encoding output", err)
	}
	a.printf("%s\n", data)
	return nil
}

func cmdAdd(ctx context.Context, a *app, args []string) error {
	fs := a.flags("add")
	title := fs.String("title", "", "job title")
	company := fs.String("company", "", "company name")
	date := fs.String("date", "", "date applied, YYYY-MM-DD (default today)")
	status := fs.String("status", "", "Saved, Applied, Interview, Technical Test, Offer or Rejected")
	postingURL := fs.String("url", "", "posting URL")
	workModel := fs.String("work-model", "", "Remote, Hybrid or On-site")
	salary := fs.String("salary", "", "salary range")
	frequency := fs.String("frequency", "", "Hourly, Monthly or Yearly")
	tags := fs.String("tags", "", "comma separated tech tags")
	notes := fs.String("notes", "", "notes")
	resume := fs.String("resume", "", "resume file to upload")
	cover := fs.String("cover-letter", "", "cover letter file to upload")
	attach := fs.String("attach", "", "comma separated files to attach")
	parseText := fs.String("parse-text", "", "prefill fields from a job description")
	parseImage := fs.String("parse-image", "", "prefill fields from a screenshot; it is kept as the job screenshot")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}

	d := draft.New(a.now())

	if *parseText != "" || *parseImage != "" {
		parsed, err := a.parse(ctx, *parseText, *parseImage)
		if err != nil {
			return err
		}
		d.ApplyParsed(parsed)
		if *parseImage != "" {
			u, err := a.upload(ctx, *parseImage)
			if err != nil {
				return err
			}
			d.SetFile(draft.FieldScreenshot, u)
		}
	}

	var fieldErr error
	d.Update(func(j *models.Job) {
		setIf(&j.Title, *title)
		setIf(&j.Company, *company)
		setIf(&j.DateApplied, *date)
		setIf(&j.SalaryRange, *salary)
		setIf(&j.Notes, *notes)
		if *workModel != "" {
			j.WorkModel = dtos.NormalizeWorkModel(*workModel)
			if j.WorkModel == "" {
				fieldErr = errors.Validation(fmt.Sprintf("unknown work model %q", *workModel))
			}
		}
		if *status != "" {
			st, ok := models.ParseStatus(*status)
			if !ok {
				fieldErr = errors.Validation(fmt.Sprintf("unknown status %q", *status))
			}
			j.Status = st
		}
		if *frequency != "" {
			f, ok := models.ParseSalaryFrequency(*frequency)
			if !ok {
				fieldErr = errors.Validation(fmt.Sprintf("unknown salary frequency %q", *frequency))
			}
			j.SalaryFrequency = f
		}
	})
	if fieldErr != nil {
		return fieldErr
	}
	if *postingURL != "" && !d.ApplyPastedURL(*postingURL) {
		return errors.Validation("url must be an http or https URL")
	}
	for _, t := range splitList(*tags) {
		d.AddTag(t)
	}

	for field, path := range map[draft.FileField]string{draft.FieldResume: *resume, draft.FieldCoverLetter: *cover} {
		if path == "" {
			continue
		}
		u, err := a.upload(ctx, path)
		if err != nil {
			return err
		}
		d.SetFile(field, u)
	}
	for _, path := range splitList(*attach) {
		u, err := a.upload(ctx, path)
		if err != nil {
			return err
		}
		d.AddAttachment(filepath.Base(path), u)
	}

	job, err := a.save(ctx, d)
	if err != nil {
		return err
	}
	a.printf("created job %d: %s at %s (%s)\n", job.ID, job.Title, job.Company, job.Status)
	return nil
}

// save creates a new draft or updates the job an edit draft was opened from.
func (a *app) save(ctx context.Context, d *draft.Draft) (models.Job, error) {
	if !d.IsEdit() {
		return a.ctrl.Create(ctx, d.Job())
	}
	job := d.Job()
	if err := a.ctrl.Update(ctx, job); err != nil {
		return models.Job{}, err
	}
	if saved, ok := a.cache.Read().Find(job.ID); ok {
		return saved, nil
	}
	return job, nil
}

func cmdHealth(ctx context.Context, a *app, args []string) error {
	fs := a.flags("health")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if err := a.api.Health(ctx); err != nil {
		return err
	}
	a.printf("ok\n")
	return nil
}

func setIf(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (a *app) parse(ctx context.Context, text, imagePath string) (*dtos.ParsedJob, error) {
	if imagePath == "" {
		return a.api.ParseJob(ctx, client.ParseInput{Text: text})
	}
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, errors.Validation(fmt.Sprintf("cannot read %s: %v", imagePath, err))
	}
	defer f.Close()
	return a.api.ParseJob(ctx, client.ParseInput{Image: f, Filename: imagePath})
}

func (a *app) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Validation(fmt.Sprintf("cannot read %s: %v", path, err)).WithOp("upload file")
	}
	defer f.Close()
	return a.api.Upload(ctx, filepath.Base(path), f)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Validation(fmt.Sprintf("invalid job id %q", s))
	}
	return id, nil
}

// findJob loads the list and returns the cached job with id.
func (a *app) findJob(ctx context.Context, id int64, op string) (models.Job, error) {
	if err := a.load(ctx); err != nil {
		return models.Job{}, err
	}
	job, ok := a.cache.Read().Find(id)
	if !ok {
		return models.Job{}, errors.NotFound("Job not found", nil).WithOp(op)
	}
	return job, nil
}

func cmdEditStatus(ctx context.Context, a *app, args []string) error {
	fs := a.flags("edit-status")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.Validation("usage: jobctl edit-status <id> <status>")
	}
	id, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}
	status, ok := models.ParseStatus(fs.Arg(1))
	if !ok {
		return errors.Validation(fmt.Sprintf("unknown status %q", fs.Arg(1)))
	}

	job, err := a.findJob(ctx, id, "update job")
	if err != nil {
		return err
	}
	from := job.Status
	job.Status = status
	if err := a.ctrl.Update(ctx, job); err != nil {
		return err
	}
	a.printf("job %d: %s -> %s\n", id, from, status)
	return nil
}

func cmdTag(ctx context.Context, a *app, args []string) error {
	fs := a.flags("tag")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 3 || (fs.Arg(1) != "add" && fs.Arg(1) != "rm") {
		return errors.Validation("usage: jobctl tag <id> add|rm <tag>...")
	}
	id, err := parseID(fs.Arg(0))
	if err != nil {
		return err
	}

	job, err := a.findJob(ctx, id, "update job")
	if err != nil {
		return err
	}
	d := draft.Edit(job)
	for _, tag := range fs.Args()[2:] {
		if fs.Arg(1) == "add" {
			d.AddTag(tag)
		} else {
			d.RemoveTag(tag)
		}
	}

	updated, err := a.save(ctx, d)
	if err != nil {
		return err
	}
	a.printf("job %d tags: %s\n", id, strings.Join(updated.TechStack, ", "))
	return nil
}

// cmdDelete deletes every id concurrently. Each delete rolls back on its own
// when it fails.
func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := a.flags("delete")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.Validation("usage: jobctl delete <id>...")
	}
	ids := make([]int64, 0, fs.NArg())
	for _, arg := range fs.Args() {
		id, err := parseID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := a.load(ctx); err != nil {
		return err
	}

	results := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = a.ctrl.Delete(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for i, err := range results {
		if err != nil {
			failed++
			a.mu.Lock()
			fmt.Fprintf(a.errOut, "job %d: %s\n", ids[i], errors.UserMessage(err))
			a.mu.Unlock()
			continue
		}
		a.printf("deleted job %d\n", ids[i])
	}
	if failed > 0 {
		return errors.Server(0, fmt.Sprintf("%d of %d deletes failed", failed, len(ids))).WithOp("delete job")
	}
	return nil
}

func cmdParse(ctx context.Context, a *app, args []string) error {
	fs := a.flags("parse")
	image := fs.String("image", "", "screenshot of a job posting")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if text == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return errors.Internal("reading stdin", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" && *image == "" {
		return errors.Validation("usage: jobctl parse [-image file] <text>|-")
	}

	parsed, err := a.parse(ctx, text, *image)
	if err != nil {
		return err
	}
	return a.printJSON(parsed)
}

func cmdUpload(ctx context.Context, a *app, args []string) error {
	fs := a.flags("upload")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.Validation("usage: jobctl upload <file>...")
	}
	for _, path := range fs.Args() {
		u, err := a.upload(ctx, path)
		if err != nil {
			return err
		}
		a.printf("%s\t%s\n", filepath.Base(path), u)
	}
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs := a.flags("export")
	format := fs.String("format", "csv", "csv or json")
	output := fs.String("o", "", "output file (default: server suggested name, - for stdout)")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}

	data, name, err := a.api.Export(ctx, *format)
	if err != nil {
		return err
	}
	if *output == "-" {
		a.mu.Lock()
		defer a.mu.Unlock()
		_, err := a.out.Write(data)
		return err
	}
	path := *output
	if path == "" {
		path = name
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Internal("writing export", err).WithOp("export jobs")
	}
	a.printf("wrote %s (%d bytes)\n", path, len(data))
	return nil
}

// cmdWatch prints a summary whenever the job list changes. Change events
// from NATS invalidate the cache, which refetches while subscribed.
func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := a.flags("watch")
	natsURL := fs.String("nats", a.cfg.NATSURL, "NATS server URL (NATS_URL)")
	if err := a.parseFlags(fs, args); err != nil {
		return err
	}
	if *natsURL == "" {
		return errors.Validation("watch needs NATS_URL or -nats")
	}

	nc, err := events.Connect(*natsURL, "jobctl", 10*time.Second)
	if err != nil {
		return errors.Network("could not reach NATS", err).WithOp("watch jobs")
	}
	defer nc.Close()

	unsubscribe := a.cache.Subscribe(func(s querycache.Snapshot) {
		st := views.ComputeStats(s.Jobs(), a.now())
		a.printf("%s  %d applications, %d interviews, %d offers, %d stale\n",
			a.now().Format(time.TimeOnly), st.Total, st.Interviews, st.Offers, len(st.Stale))
	})
	defer unsubscribe()

	sub, err := events.Subscribe(nc, a.logger, func(ch events.Change) {
		a.logger.Debug("job changed", zap.String("type", string(ch.Type)), zap.Int64("id", ch.ID))
		a.printf("job %d %s\n", ch.ID, ch.Type)
		a.cache.Invalidate()
	})
	if err != nil {
		return errors.Network("subscribing to job changes", err).WithOp("watch jobs")
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	return nil
}
