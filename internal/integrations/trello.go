package integrations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hubenschmidt/livesession/internal/tools"
)

const TrelloBaseURL = "https://api.trello.com/1"

// Trello is a thin REST client over the boards, lists, cards and comments
// endpoints.
type Trello struct {
	key, token string
	baseURL    string
	client     *http.Client
}

func NewTrello(key, token string, client *http.Client) *Trello {
	if client == nil {
		client = http.DefaultClient
	}
	return &Trello{key: key, token: token, baseURL: TrelloBaseURL, client: client}
}

func (t *Trello) Tools() []tools.Tool {
	return []tools.Tool{
		{Name: "trello_list_boards", Shape: tools.Sync, Handler: t.listBoards},
		{Name: "trello_list_lists", Shape: tools.Sync, Handler: t.listLists},
		{Name: "trello_list_cards", Shape: tools.Sync, Handler: t.listCards},
		{Name: "trello_get_card", Shape: tools.Sync, Handler: t.getCard},
		{Name: "trello_create_card", Shape: tools.Sync, Handler: t.createCard},
		{Name: "trello_update_card", Shape: tools.Sync, Handler: t.updateCard},
		{Name: "trello_add_comment", Shape: tools.Sync, Handler: t.addComment},
		{Name: "trello_delete_card", Shape: tools.Sync, Handler: t.deleteCard},
	}
}

// do calls the API and returns the decoded JSON body. Empty bodies decode
// to {"success": true}.
func (t *Trello) do(ctx context.Context, method, path string, params url.Values) (any, error) {
	if t.key == "" || t.token == "" {
		return nil, fmt.Errorf("trello not configured: set TRELLO_API_KEY and TRELLO_TOKEN")
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", t.key)
	params.Set("token", t.token)

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+"/"+strings.TrimLeft(path, "/")+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trello request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("trello read: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("trello http error: %s", resp.Status)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{"success": true}, nil
	}
	if !gjson.ValidBytes(body) {
		return map[string]any{"text": string(body)}, nil
	}
	return gjson.ParseBytes(body).Value(), nil
}

func (t *Trello) call(ctx context.Context, method, path string, params url.Values) (tools.Result, error) {
	v, err := t.do(ctx, method, path, params)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Value: v}, nil
}

func setIf(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}

func (t *Trello) listBoards(ctx context.Context, _ tools.Args) (tools.Result, error) {
	return t.call(ctx, http.MethodGet, "members/me/boards", url.Values{"fields": {"name,url"}})
}

func (t *Trello) listLists(ctx context.Context, args tools.Args) (tools.Result, error) {
	return t.call(ctx, http.MethodGet, "boards/"+url.PathEscape(args.String("board_id"))+"/lists", nil)
}

func (t *Trello) listCards(ctx context.Context, args tools.Args) (tools.Result, error) {
	return t.call(ctx, http.MethodGet, "lists/"+url.PathEscape(args.String("list_id"))+"/cards", nil)
}

func (t *Trello) getCard(ctx context.Context, args tools.Args) (tools.Result, error) {
	return t.call(ctx, http.MethodGet, "cards/"+url.PathEscape(args.String("card_id")), nil)
}

func (t *Trello) createCard(ctx context.Context, args tools.Args) (tools.Result, error) {
	p := url.Values{"idList": {args.String("list_id")}, "name": {args.String("name")}}
	setIf(p, "desc", args.String("description"))
	return t.call(ctx, http.MethodPost, "cards", p)
}

func (t *Trello) updateCard(ctx context.Context, args tools.Args) (tools.Result, error) {
	p := url.Values{}
	setIf(p, "name", args.String("name"))
	setIf(p, "desc", args.String("description"))
	return t.call(ctx, http.MethodPut, "cards/"+url.PathEscape(args.String("card_id")), p)
}

func (t *Trello) addComment(ctx context.Context, args tools.Args) (tools.Result, error) {
	return t.call(ctx, http.MethodPost, "cards/"+url.PathEscape(args.String("card_id"))+"/actions/comments",
		url.Values{"text": {args.String("text")}})
}

func (t *Trello) deleteCard(ctx context.Context, args tools.Args) (tools.Result, error) {
	return t.call(ctx, http.MethodDelete, "cards/"+url.PathEscape(args.String("card_id")), nil)
}
