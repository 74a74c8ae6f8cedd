package videoconvertmodule

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mantonx/redseat/internal/models"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	plugins "github.com/mantonx/redseat/sdk"
)

const aggregateConcurrency = 4

// Orchestrator forwards transcode operations to video_convert plugins
type Orchestrator struct {
	plugins *pluginmodule.Service
	logger  hclog.Logger
}

// NewOrchestrator creates an orchestrator on the plugin service
func NewOrchestrator(svc *pluginmodule.Service, logger hclog.Logger) *Orchestrator {
	return &Orchestrator{plugins: svc, logger: logger.Named("videoconvert")}
}

// ListPlugins returns the converter plugins of a library, or all of them
// when libraryID is empty
func (o *Orchestrator) ListPlugins(ctx context.Context, libraryID string) ([]pluginmodule.PluginWithCredential, error) {
	return o.plugins.PluginsFor(ctx, libraryID, pluginmodule.CapabilityVideoConvert)
}

// Submit hands a new job to the plugin. The job id is generated here.
func (o *Orchestrator) Submit(ctx context.Context, pluginID string, req VideoConvertRequest) (*VideoConvertStatus, error) {
	job := VideoConvertJob{ID: uuid.NewString(), Request: req}

	status, err := call[VideoConvertStatus](ctx, o, pluginID, plugins.FuncConvert, job, ErrNotAccepted)
	if err != nil {
		return nil, err
	}
	if status.ID == "" {
		status.ID = job.ID
	}
	o.logger.Info("video conversion submitted", "plugin_id", pluginID, "job_id", status.ID, "format", req.Format)
	return status, nil
}

// Status asks the plugin for the current state of a job
func (o *Orchestrator) Status(ctx context.Context, pluginID, jobID string) (*VideoConvertStatus, error) {
	return call[VideoConvertStatus](ctx, o, pluginID, plugins.FuncConvertStatus, JobParams{JobID: jobID}, ErrJobNotFound)
}

// Cancel asks the plugin to stop a job. The plugin decides whether it did.
func (o *Orchestrator) Cancel(ctx context.Context, pluginID, jobID string) (*CancelResponse, error) {
	resp, err := call[CancelResponse](ctx, o, pluginID, plugins.FuncConvertCancel, JobParams{JobID: jobID}, ErrJobNotFound)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = jobID
	}
	o.logger.Info("video conversion cancel requested", "plugin_id", pluginID, "job_id", jobID, "cancelled", resp.Cancelled)
	return resp, nil
}

// Link returns a request for the finished output
func (o *Orchestrator) Link(ctx context.Context, pluginID, jobID string) (*models.RsRequest, error) {
	req, err := call[models.RsRequest](ctx, o, pluginID, plugins.FuncConvertLink, JobParams{JobID: jobID}, ErrJobNotFound)
	if err != nil {
		return nil, err
	}
	if req.PluginID == nil {
		req.PluginID = models.StringPtr(pluginID)
	}
	return req, nil
}

// Clean releases plugin-side resources of a job
func (o *Orchestrator) Clean(ctx context.Context, pluginID, jobID string) (*VideoConvertStatus, error) {
	return call[VideoConvertStatus](ctx, o, pluginID, plugins.FuncConvertClean, JobParams{JobID: jobID}, ErrJobNotFound)
}

// Capabilities fetches one plugin's declared conversion capabilities
func (o *Orchestrator) Capabilities(ctx context.Context, pluginID string) (*VideoCapabilities, error) {
	return call[VideoCapabilities](ctx, o, pluginID, plugins.FuncConvertCapabilities, nil, ErrNoCapabilities)
}

// AggregateCapabilities queries every converter plugin of the library.
// A plugin that fails or has no info is recorded and skipped; only a
// failure to list the plugins fails the whole call.
func (o *Orchestrator) AggregateCapabilities(ctx context.Context, libraryID string) (*AggregatedCapabilities, error) {
	converters, err := o.ListPlugins(ctx, libraryID)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		caps  *VideoCapabilities
		found bool
		err   error
	}
	outcomes := make([]outcome, len(converters))

	var g errgroup.Group
	g.SetLimit(aggregateConcurrency)
	for i := range converters {
		i := i
		g.Go(func() error {
			caps, found, err := pluginmodule.Call[VideoCapabilities](ctx, o.plugins.Dispatcher, converters[i], plugins.FuncConvertCapabilities, pluginmodule.CapabilityVideoConvert, nil)
			outcomes[i] = outcome{caps: &caps, found: found, err: err}
			return nil
		})
	}
	_ = g.Wait()

	agg := &AggregatedCapabilities{Plugins: []PluginCapabilities{}}
	formats := map[string]struct{}{}
	codecs := map[string]struct{}{}

	for i, out := range outcomes {
		p := converters[i].Plugin
		switch {
		case out.err != nil:
			o.logger.Warn("failed to fetch conversion capabilities", "plugin_id", p.ID, "error", out.err)
			agg.Failures = append(agg.Failures, CapabilityFailure{PluginID: p.ID, Error: out.err.Error()})
		case !out.found:
			o.logger.Debug("plugin has no conversion capabilities", "plugin_id", p.ID)
			agg.Skipped = append(agg.Skipped, p.ID)
		default:
			agg.Plugins = append(agg.Plugins, PluginCapabilities{PluginID: p.ID, Name: p.Name, Capabilities: *out.caps})
			for _, f := range out.caps.Formats {
				formats[f] = struct{}{}
			}
			for _, c := range out.caps.Codecs {
				codecs[c] = struct{}{}
			}
		}
	}

	agg.Formats = sortedKeys(formats)
	agg.Codecs = sortedKeys(codecs)
	return agg, nil
}

// call resolves the plugin then invokes function. A 404 becomes absent.
func call[T any](ctx context.Context, o *Orchestrator, pluginID, function string, argument interface{}, absent error) (*T, error) {
	plugin, err := o.plugins.Store.GetPlugin(ctx, pluginID)
	if err != nil {
		return nil, err
	}

	result, found, err := pluginmodule.Call[T](ctx, o.plugins.Dispatcher, *plugin, function, pluginmodule.CapabilityVideoConvert, argument)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", absent, pluginID)
	}
	return &result, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
