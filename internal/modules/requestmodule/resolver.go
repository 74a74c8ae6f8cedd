package requestmodule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/redseat/internal/models"
	"github.com/mantonx/redseat/internal/modules/pluginmodule"
	"github.com/mantonx/redseat/internal/modules/sourcemodule"
	"github.com/mantonx/redseat/internal/outbound"
	"github.com/mantonx/redseat/internal/remotezip"
	plugins "github.com/mantonx/redseat/sdk"
)

// ErrNotFound is returned when no provider has content for the request
var ErrNotFound = errors.New("request content not found")

// ResolveInput is a request to resolve, optionally scoped to a library
type ResolveInput struct {
	Request   models.RsRequest
	LibraryID string
	Range     *models.ByteRange
}

// Resolution is the outcome of resolving a request
type Resolution struct {
	Read *models.SourceRead
	// Plugin is the provider that produced the request, when one did
	Plugin *pluginmodule.PluginWithCredential
	// NeedsProcessing is set when the content must be acquired by Plugin first
	NeedsProcessing bool
}

// State names the resolution outcome
func (r *Resolution) State() string {
	if r.NeedsProcessing {
		return "delegated"
	}
	return "ready"
}

// Resolver turns inbound references into streams or fetchable requests
type Resolver struct {
	pluginSvc *pluginmodule.Service
	sources   *sourcemodule.Registry
	http      *outbound.Client
	extractor *remotezip.Extractor
	logger    hclog.Logger
}

// NewResolver creates a resolver
func NewResolver(pluginSvc *pluginmodule.Service, sources *sourcemodule.Registry, client *outbound.Client, extractor *remotezip.Extractor, logger hclog.Logger) *Resolver {
	return &Resolver{
		pluginSvc: pluginSvc,
		sources:   sources,
		http:      client,
		extractor: extractor,
		logger:    logger.Named("resolver"),
	}
}

// Resolve runs a request through URL parsing and provider expansion.
// The caller's request is never modified.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*Resolution, error) {
	req := in.Request.Clone()

	parsed, parser, err := r.parse(ctx, req, in.LibraryID)
	if err != nil {
		return nil, err
	}
	if parsed != nil {
		req = parsed
	}

	if req.Status == models.RequestNeedProcessing {
		owner := parser
		if owner == nil || !owner.Plugin.HasCapability(pluginmodule.CapabilityProvider) {
			if owner, err = r.processingProvider(ctx, req, in.LibraryID); err != nil {
				return nil, err
			}
		}
		return &Resolution{Read: &models.SourceRead{Request: req}, Plugin: owner, NeedsProcessing: true}, nil
	}

	if req.IsDirectlyFetchable() {
		return &Resolution{Read: &models.SourceRead{Request: req}, Plugin: parser}, nil
	}

	if in.LibraryID != "" {
		return r.readFromLibrary(ctx, req, in)
	}
	return r.expand(ctx, req, in.LibraryID, in.Range)
}

// parse offers the request to every UrlParser whose patterns match its URL.
// The first plugin that recognizes it wins.
func (r *Resolver) parse(ctx context.Context, req *models.RsRequest, libraryID string) (*models.RsRequest, *pluginmodule.PluginWithCredential, error) {
	parsers, err := r.pluginSvc.PluginsFor(ctx, libraryID, pluginmodule.CapabilityURLParser)
	if err != nil {
		return nil, nil, err
	}

	for i := range parsers {
		parser := parsers[i]
		module, ok := r.pluginSvc.Registry.Lookup(parser.Plugin.Path)
		if !ok || !module.Manifest.MatchesURL(req.URL) {
			continue
		}

		parsed, found, err := pluginmodule.Call[models.RsRequest](ctx, r.pluginSvc.Dispatcher, parser, plugins.FuncParseRequest, pluginmodule.CapabilityURLParser, req)
		if err != nil {
			return nil, nil, err
		}
		if !found {
			continue
		}
		if parsed.PluginID == nil {
			parsed.PluginID = models.StringPtr(parser.Plugin.ID)
		}
		r.logger.Debug("request parsed", "plugin_id", parser.Plugin.ID, "url", req.URL)
		return &parsed, &parser, nil
	}
	return nil, nil, nil
}

// expand asks provider plugins for the file behind req. A 404 from one
// provider moves on to the next.
func (r *Resolver) expand(ctx context.Context, req *models.RsRequest, libraryID string, rng *models.ByteRange) (*Resolution, error) {
	providers, err := r.providersFor(ctx, req, libraryID)
	if err != nil {
		return nil, err
	}

	for i := range providers {
		provider := providers[i]
		read, err := sourcemodule.NewPluginSource(provider, r.pluginSvc.Dispatcher).Read(ctx, req.URL, rng)
		if errors.Is(err, sourcemodule.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Read:            read,
			Plugin:          &provider,
			NeedsProcessing: read.Request.Status == models.RequestNeedProcessing,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL)
}

func (r *Resolver) readFromLibrary(ctx context.Context, req *models.RsRequest, in ResolveInput) (*Resolution, error) {
	src, _, err := r.sources.ForLibraryID(ctx, in.LibraryID)
	if err != nil {
		return nil, err
	}

	read, err := src.Read(ctx, req.URL, in.Range)
	if err != nil {
		if errors.Is(err, sourcemodule.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, req.URL)
		}
		return nil, err
	}

	res := &Resolution{Read: read}
	if ps, ok := src.(*sourcemodule.PluginSource); ok {
		plugin := ps.Plugin()
		res.Plugin = &plugin
		res.NeedsProcessing = read.Request != nil && read.Request.Status == models.RequestNeedProcessing
	}
	return res, nil
}

// providersFor lists candidate providers, the one named by the request first
func (r *Resolver) providersFor(ctx context.Context, req *models.RsRequest, libraryID string) ([]pluginmodule.PluginWithCredential, error) {
	providers, err := r.pluginSvc.PluginsFor(ctx, libraryID, pluginmodule.CapabilityProvider)
	if err != nil {
		return nil, err
	}
	if req.PluginID == nil {
		return providers, nil
	}
	for i, p := range providers {
		if p.Plugin.ID == *req.PluginID {
			providers[0], providers[i] = providers[i], providers[0]
			break
		}
	}
	return providers, nil
}

func (r *Resolver) processingProvider(ctx context.Context, req *models.RsRequest, libraryID string) (*pluginmodule.PluginWithCredential, error) {
	providers, err := r.providersFor(ctx, req, libraryID)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no provider can process %s", ErrNotFound, req.URL)
	}
	return &providers[0], nil
}

// Open turns a read into bytes. Streams are returned as they are; requests
// are fetched with the range passed through and the body is not buffered.
func (r *Resolver) Open(ctx context.Context, read *models.SourceRead, rng *models.ByteRange) (*models.FileStream, error) {
	if read.IsStream() {
		return read.Stream, nil
	}
	if read.Request == nil {
		return nil, fmt.Errorf("empty source read")
	}

	req := read.Request
	resp, err := r.http.Get(ctx, req, rng)
	if err != nil {
		return nil, err
	}

	stream := &models.FileStream{
		Body:    resp.Body,
		Mime:    resp.Header.Get("Content-Type"),
		Headers: map[string]string{},
	}
	if resp.ContentLength >= 0 {
		stream.Size = models.Int64Ptr(resp.ContentLength)
	}
	if stream.Mime == "" && req.Mime != nil {
		stream.Mime = *req.Mime
	}
	if req.Filename != nil {
		stream.Filename = *req.Filename
	} else {
		stream.Filename = path.Base(resp.Request.URL.Path)
	}
	if v := resp.Header.Get("Accept-Ranges"); v != "" {
		stream.Headers["Accept-Ranges"] = v
	}

	if resp.StatusCode == http.StatusPartialContent && rng != nil {
		stream.Range = rng
		stream.TotalSize = totalFromContentRange(resp.Header.Get("Content-Range"))
		if end := rangeEnd(resp.Header.Get("Content-Range")); end != nil {
			stream.Range = &models.ByteRange{Start: rng.Start, End: end}
		}
	} else {
		stream.TotalSize = stream.Size
	}
	return stream, nil
}

// ExtractPage resolves the request and extracts one entry of the ZIP archive
// it points to. size falls back to the request's declared size.
func (r *Resolver) ExtractPage(ctx context.Context, in ResolveInput, page int, size int64) (*remotezip.Page, error) {
	res, err := r.Resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	if res.NeedsProcessing || res.Read.Request == nil {
		return nil, fmt.Errorf("archive is not available for ranged reads")
	}

	req := res.Read.Request
	if size <= 0 && req.Size != nil {
		size = *req.Size
	}
	return r.extractor.ExtractPage(ctx, req, page, size)
}

// totalFromContentRange reads the total from "bytes a-b/total"
func totalFromContentRange(v string) *int64 {
	idx := strings.LastIndexByte(v, '/')
	if idx < 0 || v[idx+1:] == "*" {
		return nil
	}
	n, err := strconv.ParseInt(v[idx+1:], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func rangeEnd(v string) *int64 {
	v = strings.TrimPrefix(v, "bytes ")
	dash := strings.IndexByte(v, '-')
	slash := strings.IndexByte(v, '/')
	if dash < 0 || slash < dash {
		return nil
	}
	n, err := strconv.ParseInt(v[dash+1:slash], 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
