package modules

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"m365gate/internal/graph"
	"m365gate/internal/tools"
)

// maxDownloadBytes caps downloadFile; larger files return their download URL only.
const maxDownloadBytes = 10 << 20

const driveItemSelect = "id,name,size,webUrl,createdDateTime,lastModifiedDateTime,file,folder,parentReference"

type driveItem struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Size                 int64  `json:"size"`
	WebURL               string `json:"webUrl"`
	CreatedDateTime      string `json:"createdDateTime,omitempty"`
	LastModifiedDateTime string `json:"lastModifiedDateTime,omitempty"`
	File                 *struct {
		MimeType string `json:"mimeType"`
	} `json:"file,omitempty"`
	Folder *struct {
		ChildCount int `json:"childCount"`
	} `json:"folder,omitempty"`
	ParentReference *struct {
		Path string `json:"path"`
	} `json:"parentReference,omitempty"`
	DownloadURL string `json:"@microsoft.graph.downloadUrl,omitempty"`
}

// FileInfo is the tool shape of a drive item.
type FileInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType,omitempty"`
	ChildCount   int    `json:"childCount,omitempty"`
	WebURL       string `json:"webUrl"`
	Path         string `json:"path,omitempty"`
	Created      string `json:"createdDateTime,omitempty"`
	LastModified string `json:"lastModifiedDateTime,omitempty"`
}

func fileInfo(d driveItem) FileInfo {
	fi := FileInfo{
		ID:           d.ID,
		Name:         d.Name,
		Type:         "file",
		Size:         d.Size,
		WebURL:       d.WebURL,
		Created:      d.CreatedDateTime,
		LastModified: d.LastModifiedDateTime,
	}
	if d.File != nil {
		fi.MimeType = d.File.MimeType
	}
	if d.Folder != nil {
		fi.Type = "folder"
		fi.ChildCount = d.Folder.ChildCount
	}
	if d.ParentReference != nil {
		fi.Path = d.ParentReference.Path
	}
	return fi
}

func fileInfos(c collection[driveItem]) listResult[FileInfo] {
	out := collection[FileInfo]{NextLink: c.NextLink}
	for _, d := range c.Value {
		out.Value = append(out.Value, fileInfo(d))
	}
	return toList(out)
}

type filesModule struct {
	client *graph.Client
}

// Files exposes OneDrive tools.
func Files(client *graph.Client) tools.Module {
	f := &filesModule{client: client}
	return tools.Module{
		Name: "files",
		Methods: []*tools.Method{
			{
				Name:        "list",
				Description: "List files and folders in a OneDrive folder",
				HTTPMethod:  http.MethodGet,
				Path:        "/files",
				Params: []tools.Param{
					{Name: "path", Type: tools.TypeString, Description: "Folder path relative to the drive root; empty for the root"},
					topParam(25),
				},
				Handler: f.list,
			},
			{
				Name:        "search",
				Description: "Search OneDrive by file name and content",
				HTTPMethod:  http.MethodGet,
				Path:        "/files/search",
				Params: []tools.Param{
					{Name: "query", Type: tools.TypeString, Description: "Search terms", Required: true},
					topParam(25),
				},
				Handler: f.search,
			},
			{
				Name:        "download",
				Description: "Download a file's content as base64",
				HTTPMethod:  http.MethodGet,
				Path:        "/files/download",
				Params:      []tools.Param{idParam("id", "Drive item id")},
				Handler:     f.download,
			},
			{
				Name:        "metadata",
				Description: "Get metadata of a file or folder",
				HTTPMethod:  http.MethodGet,
				Path:        "/files/{id}/metadata",
				Params:      []tools.Param{idParam("id", "Drive item id")},
				Handler:     f.metadata,
			},
			{
				Name:        "upload",
				Description: "Upload a small file (up to 4 MB) to OneDrive",
				HTTPMethod:  http.MethodPost,
				Path:        "/files/upload",
				Created:     true,
				Params: []tools.Param{
					{Name: "path", Type: tools.TypeString, Description: "Destination path including the file name, e.g. Documents/notes.txt", Required: true},
					{Name: "content", Type: tools.TypeString, Description: "File content", Required: true},
					{Name: "encoding", Type: tools.TypeString, Description: "Encoding of content", Enum: []string{"text", "base64"}, Default: "text"},
					{Name: "conflictBehavior", Type: tools.TypeString, Description: "What to do when the file exists", Enum: []string{"rename", "replace", "fail"}, Default: "rename"},
					{Name: "contentType", Type: tools.TypeString, Description: "MIME type", Default: "application/octet-stream"},
				},
				Handler: f.upload,
			},
		},
	}
}

// drivePath renders a root-relative item path, escaping each segment.
func drivePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = seg(s)
	}
	return strings.Join(parts, "/")
}

func (f *filesModule) list(ctx context.Context, args tools.Args) (any, error) {
	path := "/me/drive/root/children"
	if p := strings.Trim(args.String("path"), "/"); p != "" {
		path = "/me/drive/root:/" + drivePath(p) + ":/children"
	}
	q := query("$top", itoa(args.Int("top", 25)), "$select", driveItemSelect)
	var out collection[driveItem]
	if err := f.client.Get(ctx, args.AccessToken(), path, q, &out); err != nil {
		return nil, err
	}
	return fileInfos(out), nil
}

func (f *filesModule) search(ctx context.Context, args tools.Args) (any, error) {
	term := strings.ReplaceAll(args.String("query"), "'", "''")
	path := "/me/drive/root/search(q='" + seg(term) + "')"
	q := query("$top", itoa(args.Int("top", 25)), "$select", driveItemSelect)
	var out collection[driveItem]
	if err := f.client.Get(ctx, args.AccessToken(), path, q, &out); err != nil {
		return nil, err
	}
	return fileInfos(out), nil
}

func (f *filesModule) item(ctx context.Context, token, id string) (driveItem, error) {
	var d driveItem
	err := f.client.Get(ctx, token, "/me/drive/items/"+seg(id), nil, &d)
	return d, err
}

func (f *filesModule) metadata(ctx context.Context, args tools.Args) (any, error) {
	d, err := f.item(ctx, args.AccessToken(), args.String("id"))
	if err != nil {
		return nil, err
	}
	return fileInfo(d), nil
}

// Download is the downloadFile result.
type Download struct {
	FileInfo
	ContentBytes string `json:"contentBytes,omitempty"`
	DownloadURL  string `json:"downloadUrl,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
}

func (f *filesModule) download(ctx context.Context, args tools.Args) (any, error) {
	token := args.AccessToken()
	d, err := f.item(ctx, token, args.String("id"))
	if err != nil {
		return nil, err
	}
	if d.Folder != nil {
		return nil, tools.InvalidArgument("id", "is a folder")
	}
	out := Download{FileInfo: fileInfo(d)}
	if d.Size > maxDownloadBytes {
		out.DownloadURL = d.DownloadURL
		out.Truncated = true
		return out, nil
	}
	resp, err := f.client.Do(ctx, token, graph.Request{Method: http.MethodGet, Path: "/me/drive/items/" + seg(d.ID) + "/content"})
	if err != nil {
		return nil, err
	}
	out.ContentBytes = base64.StdEncoding.EncodeToString(resp.Body)
	if out.MimeType == "" {
		out.MimeType = resp.ContentType
	}
	return out, nil
}

func (f *filesModule) upload(ctx context.Context, args tools.Args) (any, error) {
	content := []byte(args.String("content"))
	if args.String("encoding") == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(args.String("content"))
		if err != nil {
			return nil, tools.InvalidArgument("content", "must be base64 encoded")
		}
		content = decoded
	}
	if len(content) > 4<<20 {
		return nil, tools.InvalidArgument("content", "must not exceed 4 MB, got %d bytes", len(content))
	}
	path := strings.Trim(args.String("path"), "/")
	if path == "" {
		return nil, tools.InvalidArgument("path", "must name a file")
	}
	resp, err := f.client.Do(ctx, args.AccessToken(), graph.Request{
		Method:      http.MethodPut,
		Path:        fmt.Sprintf("/me/drive/root:/%s:/content", drivePath(path)),
		Query:       query("@microsoft.graph.conflictBehavior", args.String("conflictBehavior")),
		RawBody:     content,
		ContentType: args.String("contentType"),
	})
	if err != nil {
		return nil, err
	}
	var d driveItem
	if err := resp.JSON(&d); err != nil {
		return nil, err
	}
	return fileInfo(d), nil
}
