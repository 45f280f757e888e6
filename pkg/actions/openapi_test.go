package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/copilotz/pkg/domain"
	"github.com/aretw0/copilotz/pkg/schema"
)

const usersSpec = `
openapi: 3.0.3
info:
  title: Users
  version: "1.0"
servers:
  - url: SERVER_URL
components:
  securitySchemes:
    bearerAuth:
      type: http
      scheme: bearer
paths:
  /login:
    post:
      operationId: login
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                user:
                  type: string
      responses:
        "200":
          description: token
          content:
            application/json:
              schema:
                type: object
                properties:
                  access_token:
                    type: string
  /users/{id}:
    get:
      operationId: getUser
      summary: Fetch a user
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
        - name: verbose
          in: query
          schema:
            type: boolean
      responses:
        "200":
          description: the user
          content:
            application/json:
              schema:
                type: object
                properties:
                  id:
                    type: integer
                  name:
                    type: string
  /users:
    post:
      operationId: createUser
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [name]
              properties:
                name:
                  type: string
      responses:
        "200":
          description: created
          content:
            application/json:
              schema:
                type: object
  /avatar/{id}:
    get:
      operationId: getAvatar
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: png image
          content:
            image/png: {}
`

type fakeUsersAPI struct {
	*httptest.Server
	logins atomic.Int32

	mu    sync.Mutex
	token string
}

func (api *fakeUsersAPI) currentToken() string {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.token
}

// rotate invalidates every token handed out so far.
func (api *fakeUsersAPI) rotate(token string) {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.token = token
}

func newFakeUsersAPI(t *testing.T) *fakeUsersAPI {
	t.Helper()
	api := &fakeUsersAPI{token: "tok"}

	r := chi.NewRouter()
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) {
		api.logins.Add(1)
		writeJSON(w, map[string]any{"access_token": api.currentToken()})
	})
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer "+api.currentToken() {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
			})
		})
		r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.Atoi(chi.URLParam(r, "id"))
			if err != nil {
				http.Error(w, "bad id", http.StatusBadRequest)
				return
			}
			writeJSON(w, map[string]any{"id": id, "name": "ada", "verbose": r.URL.Query().Get("verbose")})
		})
		r.Post("/users", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, map[string]any{"created": body["name"]})
		})
		r.Get("/avatar/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("PNG"))
		})
	})

	api.Server = httptest.NewServer(r)
	t.Cleanup(api.Close)
	return api
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func buildUsers(t *testing.T, api *fakeUsersAPI) Set {
	t.Helper()
	set, err := Build(context.Background(), []Tool{{
		Name:     "users",
		SpecType: SpecOpenAPI3,
		Spec:     strings.ReplaceAll(usersSpec, "SERVER_URL", api.URL),
		Auth:     Auth{Credentials: map[string]any{"user": "ada"}},
	}})
	require.NoError(t, err)
	return set
}

func TestOpenAPI_ActionsAndSpecs(t *testing.T) {
	set := buildUsers(t, newFakeUsersAPI(t))

	assert.Equal(t, []string{"users.createUser", "users.getAvatar", "users.getUser", "users.login"}, set.Names())
	assert.Equal(t,
		"users.getUser(Fetch a user): !id<number>, verbose<boolean>->(the user): id<number>, name<string>",
		set["users.getUser"].Spec)
	assert.True(t, set["users.getAvatar"].MediaCapable)
	assert.True(t, set["users.createUser"].Input["name"].Required)
}

func TestOpenAPI_BearerLoginResolvedOnce(t *testing.T) {
	api := newFakeUsersAPI(t)
	set := buildUsers(t, api)
	getUser := set["users.getUser"]

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			res, err := getUser.Invoke(context.Background(), map[string]any{"id": float64(id), "verbose": true})
			if err != nil {
				errs <- err
				return
			}
			if got := res.(map[string]any)["id"]; got != float64(id) {
				errs <- errors.New("unexpected id")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, int32(1), api.logins.Load())
}

func TestOpenAPI_BearerLoginSurvivesCancelledCaller(t *testing.T) {
	api := newFakeUsersAPI(t)
	getUser := buildUsers(t, api)["users.getUser"]

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := getUser.Invoke(cancelled, map[string]any{"id": 1})
	require.ErrorIs(t, err, context.Canceled)

	res, err := getUser.Invoke(context.Background(), map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, float64(1), res.(map[string]any)["id"])
	assert.Equal(t, int32(1), api.logins.Load())
}

func TestOpenAPI_BearerTokenRefreshedOnUnauthorized(t *testing.T) {
	api := newFakeUsersAPI(t)
	getUser := buildUsers(t, api)["users.getUser"]
	ctx := context.Background()

	_, err := getUser.Invoke(ctx, map[string]any{"id": 1})
	require.NoError(t, err)

	api.rotate("tok-2")
	res, err := getUser.Invoke(ctx, map[string]any{"id": 2})
	require.NoError(t, err)
	assert.Equal(t, float64(2), res.(map[string]any)["id"])
	assert.Equal(t, int32(2), api.logins.Load())
}

func TestOpenAPI_QueryAndBodyRouting(t *testing.T) {
	set := buildUsers(t, newFakeUsersAPI(t))
	ctx := context.Background()

	res, err := set["users.getUser"].Invoke(ctx, map[string]any{"id": 3, "verbose": true})
	require.NoError(t, err)
	assert.Equal(t, "true", res.(map[string]any)["verbose"])

	res, err = set["users.createUser"].Invoke(ctx, map[string]any{"name": "grace"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"created": "grace"}, res)

	_, err = set["users.createUser"].Invoke(ctx, map[string]any{})
	ve, ok := schema.AsValidationError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "$args.name", ve.Path)
}

func TestOpenAPI_BinaryResponseBecomesMedia(t *testing.T) {
	set := buildUsers(t, newFakeUsersAPI(t))

	res, err := set["users.getAvatar"].Invoke(context.Background(), map[string]any{"id": "a1"})
	require.NoError(t, err)

	rest, media := SplitMedia(res)
	assert.Equal(t, map[string]any{}, rest)
	assert.Equal(t, "data:image/png;base64,UE5H", media["/avatar/a1"])
	assert.Contains(t, res.(map[string]any), domain.MediaKey)
}

func TestOpenAPI_HTTPError(t *testing.T) {
	api := newFakeUsersAPI(t)
	set, err := Build(context.Background(), []Tool{{
		Name:     "users",
		SpecType: SpecOpenAPI3,
		Spec:     strings.ReplaceAll(usersSpec, "SERVER_URL", api.URL),
		Auth:     Auth{Token: "wrong"},
	}})
	require.NoError(t, err)

	_, err = set["users.getUser"].Invoke(context.Background(), map[string]any{"id": 1})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, int32(0), api.logins.Load())
}

func TestOpenAPI_MissingServer(t *testing.T) {
	spec := strings.Replace(usersSpec, "servers:\n  - url: SERVER_URL\n", "", 1)
	_, err := Build(context.Background(), []Tool{{Name: "users", SpecType: SpecOpenAPI3, Spec: spec}})
	assert.ErrorIs(t, err, ErrMissingServer)
}

func TestSubstitutePathParam(t *testing.T) {
	assert.Equal(t, "/users/7/posts", substitutePathParam("/users/{id}/posts", "id", "7"))
	assert.Equal(t, "/users/7/posts", substitutePathParam("/users/:id/posts", "id", "7"))
	assert.Equal(t, "/users/:idx", substitutePathParam("/users/:idx", "id", "7"))
}
