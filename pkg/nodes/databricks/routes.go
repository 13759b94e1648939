package databricks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/mik3lol/n8n-nodes-databricks/pkg/nodes"
)

type valueKind int

const (
	asValue valueKind = iota
	asString
	asJSONString
)

// field copies a node parameter into the request. Param may be a dotted path
// into a collection; key may be dotted to nest the value in the body.
type field struct {
	key   string
	param string
	kind  valueKind
}

// route is a direct parameter-to-REST mapping.
type route struct {
	method string
	// path placeholders: {param} is one escaped segment, {param*} keeps
	// slashes and may be empty.
	path  string
	query []field
	body  []field
	// required parameters besides the path placeholders.
	required []string
}

func raw(key, param string) field        { return field{key: key, param: param} }
func str(key, param string) field        { return field{key: key, param: param, kind: asString} }
func jsonString(key, param string) field { return field{key: key, param: param, kind: asJSONString} }
func extra(key string) field             { return field{key: key, param: "additionalFields." + key} }
func extraAs(key, param string) field    { return field{key: key, param: "additionalFields." + param} }

const (
	ucAPI      = "/api/2.1/unity-catalog"
	servingAPI = "/api/2.0/serving-endpoints"
	genieAPI   = "/api/2.0/genie/spaces"
	vsAPI      = "/api/2.0/vector-search/indexes"
	volumePath = "/Volumes/{catalog}/{schema}/{volume}/{path*}"
)

var routes = map[string]map[string]route{
	resourceUnityCatalog: {
		"createVolume": {
			method: http.MethodPost, path: ucAPI + "/volumes",
			body:     []field{str("catalog_name", "catalogName"), str("schema_name", "schemaName"), str("name", "volumeName"), str("volume_type", "volumeType"), extra("comment"), extra("storage_location")},
			required: []string{"catalogName", "schemaName", "volumeName", "volumeType"},
		},
		"deleteVolume": {method: http.MethodDelete, path: ucAPI + "/volumes/{fullName}"},
		"getVolume":    {method: http.MethodGet, path: ucAPI + "/volumes/{fullName}"},
		"listVolumes": {
			method: http.MethodGet, path: ucAPI + "/volumes",
			query:    []field{str("catalog_name", "catalogName"), str("schema_name", "schemaName")},
			required: []string{"catalogName", "schemaName"},
		},
		"getTable": {method: http.MethodGet, path: ucAPI + "/tables/{fullName}"},
		"listTables": {
			method: http.MethodGet, path: ucAPI + "/tables",
			query:    []field{str("catalog_name", "catalogName"), str("schema_name", "schemaName"), extraAs("max_results", "maxResults"), extraAs("page_token", "pageToken")},
			required: []string{"catalogName", "schemaName"},
		},
		"createFunction": {
			method: http.MethodPost, path: ucAPI + "/functions",
			body: []field{
				str("function_info.catalog_name", "catalogName"), str("function_info.schema_name", "schemaName"),
				str("function_info.name", "functionName"), raw("function_info.input_params", "inputParams"),
				str("function_info.data_type", "returnType"), str("function_info.routine_definition", "routineBody"),
				extraAs("function_info.comment", "comment"),
			},
			required: []string{"catalogName", "schemaName", "functionName"},
		},
		"deleteFunction": {method: http.MethodDelete, path: ucAPI + "/functions/{fullName}"},
		"getFunction":    {method: http.MethodGet, path: ucAPI + "/functions/{fullName}"},
		"listFunctions": {
			method: http.MethodGet, path: ucAPI + "/functions",
			query:    []field{str("catalog_name", "catalogName"), str("schema_name", "schemaName")},
			required: []string{"catalogName", "schemaName"},
		},
		"createCatalog": {
			method: http.MethodPost, path: ucAPI + "/catalogs",
			body:     []field{str("name", "catalogName"), str("comment", "comment")},
			required: []string{"catalogName"},
		},
		"getCatalog":    {method: http.MethodGet, path: ucAPI + "/catalogs/{catalogName}"},
		"updateCatalog": {method: http.MethodPatch, path: ucAPI + "/catalogs/{catalogName}", body: []field{str("comment", "comment")}},
		"deleteCatalog": {method: http.MethodDelete, path: ucAPI + "/catalogs/{catalogName}"},
		"listCatalogs":  {method: http.MethodGet, path: ucAPI + "/catalogs"},
	},
	resourceModelServing: {
		"listEndpoints": {method: http.MethodGet, path: servingAPI},
		"getEndpoint":   {method: http.MethodGet, path: servingAPI + "/{endpointName}"},
		"createEndpoint": {
			method: http.MethodPost, path: servingAPI,
			body: []field{str("name", "endpointName"), raw("config.served_entities", "servedModels"), raw("config.traffic_config", "trafficConfig")},
		},
		"updateEndpoint": {
			method: http.MethodPut, path: servingAPI + "/{endpointName}/config",
			body: []field{raw("served_entities", "servedModels"), raw("traffic_config", "trafficConfig")},
		},
		"deleteEndpoint":  {method: http.MethodDelete, path: servingAPI + "/{endpointName}"},
		"getEndpointLogs": {method: http.MethodGet, path: servingAPI + "/{endpointName}/served-models/{servedModelName}/logs"},
	},
	resourceDatabricksSQL: {
		"listTables": {
			method: http.MethodGet, path: ucAPI + "/tables",
			query: []field{extraAs("catalog_name", "catalog"), extraAs("schema_name", "schema"), extraAs("max_results", "maxResults"), extraAs("page_token", "pageToken")},
		},
	},
	resourceGenie: {
		"getSpace": {method: http.MethodGet, path: genieAPI + "/{spaceId}"},
		"startConversation": {
			method: http.MethodPost, path: genieAPI + "/{spaceId}/start-conversation",
			body: []field{str("content", "initialMessage")}, required: []string{"initialMessage"},
		},
		"createMessage": {
			method: http.MethodPost, path: genieAPI + "/{spaceId}/conversations/{conversationId}/messages",
			body: []field{str("content", "message")}, required: []string{"message"},
		},
		"getMessage": {method: http.MethodGet, path: genieAPI + "/{spaceId}/conversations/{conversationId}/messages/{messageId}"},
		"executeMessageQuery": {
			method: http.MethodPost, path: genieAPI + "/{spaceId}/conversations/{conversationId}/messages/{messageId}/attachments/{attachmentId}/execute-query",
		},
		"getQueryResults": {
			method: http.MethodGet, path: genieAPI + "/{spaceId}/conversations/{conversationId}/messages/{messageId}/attachments/{attachmentId}/query-result",
		},
	},
	resourceVectorSearch: {
		"createIndex": {
			method: http.MethodPost, path: vsAPI,
			body: []field{
				str("name", "indexName"), str("endpoint_name", "endpointName"), str("primary_key", "primaryKey"),
				str("index_type", "indexType"), raw("delta_sync_index_spec", "deltaSyncIndexSpec"), raw("direct_access_index_spec", "directAccessIndexSpec"),
			},
			required: []string{"indexName", "endpointName", "primaryKey", "indexType"},
		},
		"getIndex":    {method: http.MethodGet, path: vsAPI + "/{indexName}"},
		"deleteIndex": {method: http.MethodDelete, path: vsAPI + "/{indexName}"},
		"listIndexes": {
			method: http.MethodGet, path: vsAPI,
			query: []field{str("endpoint_name", "endpointName"), extraAs("page_token", "pageToken")},
		},
		"queryIndex": {
			method: http.MethodPost, path: vsAPI + "/{indexName}/query",
			body: []field{
				raw("columns", "columns"), raw("query_vector", "queryVector"), str("query_text", "queryText"),
				raw("num_results", "numResults"), raw("score_threshold", "scoreThreshold"),
				jsonString("filters_json", "filterExpression"), str("query_type", "queryType"),
			},
		},
		"scanIndex": {
			method: http.MethodPost, path: vsAPI + "/{indexName}/scan",
			body: []field{raw("num_results", "numResults"), str("last_primary_key", "lastPrimaryKey")},
		},
		"upsertData": {
			method: http.MethodPost, path: vsAPI + "/{indexName}/upsert-data",
			body: []field{jsonString("inputs_json", "data")}, required: []string{"data"},
		},
		"deleteData": {
			method: http.MethodDelete, path: vsAPI + "/{indexName}/delete-data",
			query: []field{raw("primary_keys", "primaryKeys")}, required: []string{"primaryKeys"},
		},
	},
	resourceFiles: {
		"getFileInfo":     {method: http.MethodHead, path: "/api/2.0/fs/files" + volumePath},
		"deleteFile":      {method: http.MethodDelete, path: "/api/2.0/fs/files" + volumePath},
		"listDirectory":   {method: http.MethodGet, path: "/api/2.0/fs/directories" + volumePath, query: []field{extraAs("page_size", "pageSize"), extraAs("page_token", "pageToken")}},
		"createDirectory": {method: http.MethodPut, path: "/api/2.0/fs/directories" + volumePath},
		"deleteDirectory": {method: http.MethodDelete, path: "/api/2.0/fs/directories" + volumePath},
	},
}

var placeholder = regexp.MustCompile(`\{([A-Za-z]+)(\*?)\}`)

// request renders the route for one item's parameters.
func (r route) request(p nodes.Params) (string, any, error) {
	for _, name := range r.required {
		if _, ok := fieldValue(p, field{param: name}); !ok {
			return "", nil, &nodes.MissingParameterError{Name: name}
		}
	}

	path, err := renderPath(r.path, p)
	if err != nil {
		return "", nil, err
	}

	if len(r.query) > 0 {
		q := url.Values{}

		for _, fl := range r.query {
			v, ok := fieldValue(p, fl)
			if !ok {
				continue
			}

			if list, isList := v.([]any); isList {
				for _, item := range list {
					q.Add(fl.key, fmt.Sprint(item))
				}

				continue
			}

			q.Set(fl.key, fmt.Sprint(v))
		}

		if encoded := q.Encode(); encoded != "" {
			path += "?" + encoded
		}
	}

	if len(r.body) == 0 {
		return path, nil, nil
	}

	body := map[string]any{}

	for _, fl := range r.body {
		v, ok := fieldValue(p, fl)
		if !ok {
			continue
		}

		if _, isString := v.(string); fl.kind == asJSONString && !isString {
			data, err := json.Marshal(v)
			if err != nil {
				return "", nil, fmt.Errorf("encode %s: %w", fl.param, err)
			}

			v = string(data)
		}

		setPath(body, fl.key, v)
	}

	return path, body, nil
}

func renderPath(pattern string, p nodes.Params) (string, error) {
	var missing error

	path := placeholder.ReplaceAllStringFunc(pattern, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		name, multi := sub[1], sub[2] == "*"

		value := p.String(name)
		if value == "" && !multi && missing == nil {
			missing = &nodes.MissingParameterError{Name: name}
		}

		if !multi {
			return url.PathEscape(value)
		}

		segments := strings.Split(strings.Trim(value, "/"), "/")
		for i, s := range segments {
			segments[i] = url.PathEscape(s)
		}

		return strings.Join(segments, "/")
	})
	if missing != nil {
		return "", missing
	}

	return strings.TrimSuffix(path, "/"), nil
}

// fieldValue skips absent and empty values so optional fields are omitted.
func fieldValue(p nodes.Params, fl field) (any, bool) {
	v, ok := p.Lookup(fl.param)
	if !ok || v == nil {
		return nil, false
	}

	if fl.kind == asString {
		s := nodes.Params{"v": v}.String("v")

		return s, s != ""
	}

	if s, isString := v.(string); isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}

		// JSON typed parameters arrive as strings from UIs.
		if fl.kind == asValue && (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded, true
			}
		}

		return s, true
	}

	return v, true
}

func setPath(body map[string]any, key string, v any) {
	head, rest, nested := strings.Cut(key, ".")
	if !nested {
		body[head] = v

		return
	}

	child, ok := body[head].(map[string]any)
	if !ok {
		child = map[string]any{}
		body[head] = child
	}

	setPath(child, rest, v)
}
