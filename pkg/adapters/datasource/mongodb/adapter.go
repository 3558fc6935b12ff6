package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/logging"
	"github.com/ekaya-inc/insightpilot/pkg/models"
)

// SchemaSampleSize is how many documents per collection schema inference reads.
const SchemaSampleSize = 10

// DefaultPort returns the default MongoDB port.
func DefaultPort() int {
	return 27017
}

// buildURI renders a mongodb:// URI. The extra key "uri" replaces it
// entirely (for mongodb+srv clusters); "auth_source" sets authSource.
func buildURI(desc models.ConnectionDescriptor) (string, error) {
	db := desc.DB
	if db == nil {
		return "", fmt.Errorf("connection %q has no database settings", desc.Name)
	}
	if db.Database == "" {
		return "", fmt.Errorf("database is required")
	}
	if uri := desc.Extra["uri"]; uri != "" {
		return uri, nil
	}
	if db.Host == "" {
		return "", fmt.Errorf("host is required")
	}
	port := db.Port
	if port == 0 {
		port = DefaultPort()
	}

	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(db.Host, strconv.Itoa(port)), Path: "/"}
	if db.Username != "" {
		u.User = url.UserPassword(db.Username, db.Password)
	}
	q := url.Values{}
	if src := desc.Extra["auth_source"]; src != "" {
		q.Set("authSource", src)
	}
	q.Set("readPreference", "secondaryPreferred")
	q.Set("appName", "insightpilot")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ErrorRules classify MongoDB command errors.
var ErrorRules = datasource.ErrorRules{
	datasource.Rule(`must be an accumulator object|unknown group operator`, "40234", true,
		"Every field in $group other than _id must use an accumulator such as $sum or $avg."),
	datasource.Rule(`unknown top level operator`, "2", false,
		"Filters may only use query operators such as $eq, $gt, $in and $regex."),
	datasource.Rule(`unrecognized pipeline stage name`, "40324", false,
		"Use only standard read stages: $match, $group, $project, $sort, $limit, $unwind, $lookup."),
	datasource.Rule(`not a valid JSON query object|invalid document`, "", false,
		`Emit one JSON object: {"collection": ..., "operation": "find", "filter": {...}}.`),
}

func errorCode(err error) string {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return strconv.Itoa(int(cmdErr.Code))
	}
	return ""
}

// Adapter provides MongoDB connectivity.
type Adapter struct {
	uri      string
	database string
	opts     datasource.Options
	logger   *zap.Logger

	mu     sync.Mutex
	client *mongo.Client
}

var _ datasource.Adapter = (*Adapter)(nil)

// NewAdapter creates an unconnected MongoDB adapter.
func NewAdapter(uri, database string, opts datasource.Options, logger *zap.Logger) *Adapter {
	return &Adapter{uri: uri, database: database, opts: opts, logger: logger}
}

// Connect dials the cluster and pings it.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}

	clientOpts := options.Client().
		ApplyURI(a.uri).
		SetConnectTimeout(a.opts.ExecTimeout).
		SetServerSelectionTimeout(a.opts.ExecTimeout).
		SetTimeout(a.opts.ExecTimeout)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return fmt.Errorf("connect to mongodb: %s", logging.SanitizeError(err))
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping failed: %s", logging.SanitizeError(err))
	}

	a.client = client
	return nil
}

func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := a.client.Disconnect(ctx)
	a.client = nil
	return err
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client != nil
}

func (a *Adapter) db() (*mongo.Database, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, datasource.ErrNotConnected
	}
	return a.client.Database(a.database), nil
}

func (a *Adapter) SanitizeQuery(text string) (string, error) { return Sanitize(text) }

func (a *Adapter) ValidateQuery(text string) error { return Validate(text) }

func (a *Adapter) Dialect() datasource.Dialect { return datasource.DialectDocument }

func (a *Adapter) ErrorRules() datasource.ErrorRules { return ErrorRules.With(datasource.CommonRules) }

// GetSchema infers fields per collection from a small sample.
func (a *Adapter) GetSchema(ctx context.Context) ([]models.TableSchema, error) {
	db, err := a.db()
	if err != nil {
		return nil, err
	}
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	tables := make([]models.TableSchema, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}
		docs, err := sampleDocs(ctx, db.Collection(name), SchemaSampleSize)
		if err != nil {
			return nil, fmt.Errorf("sample collection %s: %w", name, err)
		}
		tables = append(tables, InferSchema(name, docs))
	}
	return tables, nil
}

// Execute runs a structured query.
func (a *Adapter) Execute(ctx context.Context, text string) models.ExecutionResult {
	return datasource.RunTimed(a.logger, errorCode, func() (models.ExecutionResult, error) {
		db, err := a.db()
		if err != nil {
			return models.ExecutionResult{}, err
		}
		q, err := ParseQuery(text)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		ctx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
		defer cancel()
		return a.run(ctx, db.Collection(q.Collection), q)
	})
}

func (a *Adapter) limitFor(q *Query) int64 {
	limit := int64(a.opts.MaxRows)
	if n := int64(q.Limit); n > 0 && n < limit {
		limit = n
	}
	return limit
}

func (a *Adapter) run(ctx context.Context, coll *mongo.Collection, q *Query) (models.ExecutionResult, error) {
	filter, err := document(q.Filter)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	limit := a.limitFor(q)

	switch q.Operation {
	case OpFind:
		findOpts := options.Find().SetLimit(limit)
		if q.Skip > 0 {
			findOpts.SetSkip(int64(q.Skip))
		}
		if len(q.Projection) > 0 {
			proj, err := document(q.Projection)
			if err != nil {
				return models.ExecutionResult{}, err
			}
			findOpts.SetProjection(proj)
		}
		if len(q.Sort) > 0 {
			srt, err := document(q.Sort)
			if err != nil {
				return models.ExecutionResult{}, err
			}
			findOpts.SetSort(srt)
		}
		cursor, err := coll.Find(ctx, filter, findOpts)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		var docs []bson.D
		if err := cursor.All(ctx, &docs); err != nil {
			return models.ExecutionResult{}, err
		}
		return Flatten(docs), nil

	case OpAggregate:
		stages, err := pipeline(q.Pipeline)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		cursor, err := coll.Aggregate(ctx, boundStages(stages, int64(q.Skip), limit))
		if err != nil {
			return models.ExecutionResult{}, err
		}
		var docs []bson.D
		if err := cursor.All(ctx, &docs); err != nil {
			return models.ExecutionResult{}, err
		}
		return Flatten(docs), nil

	case OpCount:
		countOpts := options.Count()
		if q.Skip > 0 {
			countOpts.SetSkip(int64(q.Skip))
		}
		n, err := coll.CountDocuments(ctx, filter, countOpts)
		if err != nil {
			return models.ExecutionResult{}, err
		}
		return models.ExecutionResult{Columns: []string{"count"}, Rows: [][]any{{n}}, RowCount: 1}, nil

	case OpDistinct:
		res := coll.Distinct(ctx, string(q.Field), filter)
		if err := res.Err(); err != nil {
			return models.ExecutionResult{}, err
		}
		var values []any
		if err := res.Decode(&values); err != nil {
			return models.ExecutionResult{}, err
		}
		if skip := int64(q.Skip); skip > 0 {
			values = values[min(skip, int64(len(values))):]
		}
		if int64(len(values)) > limit {
			values = values[:limit]
		}
		out := models.ExecutionResult{Columns: []string{string(q.Field)}, Rows: make([][]any, 0, len(values))}
		for _, v := range values {
			out.Rows = append(out.Rows, []any{cellValue(v)})
		}
		out.RowCount = len(out.Rows)
		return out, nil
	}
	return models.ExecutionResult{}, fmt.Errorf("unsupported operation %q", q.Operation)
}

// GetSample returns the first documents of a collection.
func (a *Adapter) GetSample(ctx context.Context, name string, limit int) models.ExecutionResult {
	return datasource.RunTimed(a.logger, errorCode, func() (models.ExecutionResult, error) {
		db, err := a.db()
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if strings.TrimSpace(name) == "" {
			return models.ExecutionResult{}, errors.New("collection name is required")
		}
		ctx, cancel := context.WithTimeout(ctx, a.opts.ExecTimeout)
		defer cancel()
		docs, err := sampleDocs(ctx, db.Collection(name), int64(datasource.ClampLimit(limit)))
		if err != nil {
			return models.ExecutionResult{}, err
		}
		return Flatten(docs), nil
	})
}

// sampleDocs reads the first limit documents of a collection in natural order.
func sampleDocs(ctx context.Context, coll *mongo.Collection, limit int64) ([]bson.D, error) {
	cursor, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(limit))
	if err != nil {
		return nil, err
	}
	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Flatten turns documents into a table. Columns are top-level keys in
// first-seen order; missing keys become nil.
func Flatten(docs []bson.D) models.ExecutionResult {
	var columns []string
	index := map[string]int{}
	for _, d := range docs {
		for _, e := range d {
			if _, ok := index[e.Key]; !ok {
				index[e.Key] = len(columns)
				columns = append(columns, e.Key)
			}
		}
	}

	rows := make([][]any, 0, len(docs))
	for _, d := range docs {
		row := make([]any, len(columns))
		for _, e := range d {
			row[index[e.Key]] = cellValue(e.Value)
		}
		rows = append(rows, row)
	}
	if columns == nil {
		columns = []string{}
	}
	return models.ExecutionResult{Columns: columns, Rows: rows, RowCount: len(rows)}
}

// cellValue renders a BSON value as a scalar; nested values become JSON.
func cellValue(v any) any {
	plain := plainValue(v)
	switch plain.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(plain)
		if err != nil {
			return fmt.Sprintf("%v", plain)
		}
		return string(b)
	}
	return plain
}

func plainValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case bson.Decimal128:
		return val.String()
	case bson.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = plainValue(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(val))
		for k, e := range val {
			m[k] = plainValue(e)
		}
		return m
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plainValue(e)
		}
		return out
	default:
		return datasource.NormalizeValue(v)
	}
}

// bsonTypeName names a decoded BSON value's type for prompts.
func bsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int32, int64:
		return "int"
	case float64:
		return "double"
	case bool:
		return "bool"
	case bson.ObjectID:
		return "objectId"
	case bson.DateTime:
		return "date"
	case bson.Decimal128:
		return "decimal"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// InferSchema derives columns from sampled documents. Field names are the
// sorted union over the sample; a field observed with several types lists
// them all. A field is nullable when some document lacks it or holds null.
func InferSchema(name string, docs []bson.D) models.TableSchema {
	b := datasource.NewSchemaBuilder()
	b.AddTable(name)

	type field struct {
		types    []string
		seen     int
		nullable bool
	}
	fields := map[string]*field{}
	for _, d := range docs {
		for _, e := range d {
			f, ok := fields[e.Key]
			if !ok {
				f = &field{}
				fields[e.Key] = f
			}
			f.seen++
			t := bsonTypeName(e.Value)
			if t == "null" {
				f.nullable = true
			}
			if !slices.Contains(f.types, t) {
				f.types = append(f.types, t)
			}
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		f := fields[key]
		b.AddColumn(name, models.ColumnInfo{
			Name:     key,
			Type:     strings.Join(f.types, ", "),
			Nullable: f.nullable || f.seen < len(docs),
		})
	}
	if _, ok := fields["_id"]; ok {
		b.AddPrimaryKey(name, "_id")
	}
	return b.Build()[0]
}

func init() {
	datasource.Register(datasource.Registration{
		Info: datasource.AdapterInfo{
			Subtype:     models.DBMongoDB,
			DisplayName: "MongoDB",
			Description: "MongoDB 5+ and Atlas, queried with structured JSON",
			Dialect:     datasource.DialectDocument,
		},
		Factory: func(desc models.ConnectionDescriptor, opts datasource.Options, logger *zap.Logger) (datasource.Adapter, error) {
			uri, err := buildURI(desc)
			if err != nil {
				return nil, err
			}
			return NewAdapter(uri, desc.DB.Database, opts, logger), nil
		},
	})
}
