package loam_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loamdb/loam"
	dsql "github.com/loamdb/loam/dialect/sql"
)

// seedGraph creates two users, three posts and two tags:
// Ada owns two posts (the first tagged twice), Bob owns one, and a
// profile exists for Ada only.
func seedGraph(t *testing.T, client *loam.Client, drv *dsql.Driver) (adaID, bobID int64) {
	t.Helper()
	ctx := context.Background()
	users := model(t, client, "User")
	posts := model(t, client, "Post")
	profiles := model(t, client, "Profile")
	tags := model(t, client, "Tag")

	res, err := users.Create(ctx, loam.Record{"email": "ada@example.com", "name": "Ada"})
	require.NoError(t, err)
	adaID = res.LastInsertID
	res, err = users.Create(ctx, loam.Record{"email": "bob@example.com", "name": "Bob"})
	require.NoError(t, err)
	bobID = res.LastInsertID

	res, err = posts.Create(ctx, loam.Record{"user_id": adaID, "title": "intro"})
	require.NoError(t, err)
	firstPost := res.LastInsertID
	_, err = posts.Create(ctx, loam.Record{"user_id": adaID, "title": "followup"})
	require.NoError(t, err)
	_, err = posts.Create(ctx, loam.Record{"user_id": bobID, "title": "solo"})
	require.NoError(t, err)

	_, err = profiles.Create(ctx, loam.Record{"user_id": adaID, "bio": "mathematician"})
	require.NoError(t, err)

	for _, label := range []string{"go", "sql"} {
		res, err = tags.Create(ctx, loam.Record{"label": label})
		require.NoError(t, err)
		err = drv.Exec(ctx, "INSERT INTO post_tags (post_id, tag_id) VALUES (?, ?)",
			[]any{firstPost, res.LastInsertID}, nil)
		require.NoError(t, err)
	}
	return adaID, bobID
}

func TestIncludes(t *testing.T) {
	ctx := context.Background()

	t.Run("HasMany", func(t *testing.T) {
		client, drv := newTestEnv(t)
		adaID, bobID := seedGraph(t, client, drv)
		users := model(t, client, "User")

		rows, err := users.FindAll(ctx, &loam.Query{
			Order:   []loam.OrderTerm{{Field: "id"}},
			Include: []*loam.Include{{Association: "posts"}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)

		ada := rows[0]
		require.EqualValues(t, adaID, ada["id"])
		adaPosts, ok := ada["posts"].([]loam.Record)
		require.True(t, ok)
		assert.Len(t, adaPosts, 2)

		bob := rows[1]
		require.EqualValues(t, bobID, bob["id"])
		bobPosts, ok := bob["posts"].([]loam.Record)
		require.True(t, ok)
		assert.Len(t, bobPosts, 1)
		assert.Equal(t, "solo", bobPosts[0]["title"])
	})

	t.Run("HasManyFiltered", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		users := model(t, client, "User")

		rows, err := users.FindAll(ctx, &loam.Query{
			Order: []loam.OrderTerm{{Field: "id"}},
			Include: []*loam.Include{{
				Association: "posts",
				Where:       loam.EQ("title", "intro"),
			}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Len(t, rows[0]["posts"], 1)
		// Rows with no match get an empty list, not nil.
		assert.Equal(t, []loam.Record{}, rows[1]["posts"])
	})

	t.Run("HasOne", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		users := model(t, client, "User")

		rows, err := users.FindAll(ctx, &loam.Query{
			Order:   []loam.OrderTerm{{Field: "id"}},
			Include: []*loam.Include{{Association: "profile"}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)

		profile, ok := rows[0]["profile"].(loam.Record)
		require.True(t, ok)
		assert.Equal(t, "mathematician", profile["bio"])
		assert.Nil(t, rows[1]["profile"])
	})

	t.Run("BelongsTo", func(t *testing.T) {
		client, drv := newTestEnv(t)
		adaID, _ := seedGraph(t, client, drv)
		posts := model(t, client, "Post")

		rows, err := posts.FindAll(ctx, &loam.Query{
			Where:   loam.EQ("title", "intro"),
			Include: []*loam.Include{{Association: "author"}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		author, ok := rows[0]["author"].(loam.Record)
		require.True(t, ok)
		assert.EqualValues(t, adaID, author["id"])
		assert.Equal(t, "Ada", author["name"])
	})

	t.Run("BelongsToMany", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		posts := model(t, client, "Post")

		rows, err := posts.FindAll(ctx, &loam.Query{
			Order:   []loam.OrderTerm{{Field: "id"}},
			Include: []*loam.Include{{Association: "tags"}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 3)

		tagged, ok := rows[0]["tags"].([]loam.Record)
		require.True(t, ok)
		require.Len(t, tagged, 2)
		labels := []string{tagged[0]["label"].(string), tagged[1]["label"].(string)}
		assert.ElementsMatch(t, []string{"go", "sql"}, labels)
		// The synthetic join column never leaks into the result.
		assert.NotContains(t, tagged[0], "__loam_parent")

		// Untagged posts get an empty list.
		assert.Equal(t, []loam.Record{}, rows[1]["tags"])
		assert.Equal(t, []loam.Record{}, rows[2]["tags"])
	})

	t.Run("BelongsToManyFiltered", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		posts := model(t, client, "Post")

		rows, err := posts.FindAll(ctx, &loam.Query{
			Where: loam.EQ("title", "intro"),
			Include: []*loam.Include{{
				Association: "tags",
				Where:       loam.EQ("label", "go"),
			}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		tagged, ok := rows[0]["tags"].([]loam.Record)
		require.True(t, ok)
		require.Len(t, tagged, 1)
		assert.Equal(t, "go", tagged[0]["label"])
	})

	t.Run("Nested", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		users := model(t, client, "User")

		rows, err := users.FindAll(ctx, &loam.Query{
			Where: loam.EQ("email", "ada@example.com"),
			Include: []*loam.Include{{
				Association: "posts",
				Include:     []*loam.Include{{Association: "author"}},
			}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		posts, ok := rows[0]["posts"].([]loam.Record)
		require.True(t, ok)
		require.NotEmpty(t, posts)
		author, ok := posts[0]["author"].(loam.Record)
		require.True(t, ok)
		assert.Equal(t, "Ada", author["name"])
	})

	t.Run("Siblings", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		users := model(t, client, "User")

		rows, err := users.FindAll(ctx, &loam.Query{
			Order: []loam.OrderTerm{{Field: "id"}},
			Include: []*loam.Include{
				{Association: "posts"},
				{Association: "profile"},
			},
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Contains(t, rows[0], "posts")
		assert.Contains(t, rows[0], "profile")
	})

	t.Run("InsideTransaction", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		users := model(t, client, "User")

		err := client.WithTx(ctx, func(ctx context.Context) error {
			rows, err := users.FindAll(ctx, &loam.Query{
				Include: []*loam.Include{
					{Association: "posts"},
					{Association: "profile"},
				},
			})
			if err != nil {
				return err
			}
			require.Len(t, rows, 2)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("UnknownAssociation", func(t *testing.T) {
		client, drv := newTestEnv(t)
		seedGraph(t, client, drv)
		users := model(t, client, "User")

		_, err := users.FindAll(ctx, &loam.Query{
			Include: []*loam.Include{{Association: "friends"}},
		})
		require.Error(t, err)
	})
}
