package app

import (
	"context"
	"fmt"
	"time"

	"afggram/internal/util"
	"afggram/pkg/domain"
	"afggram/pkg/notify"
	"afggram/pkg/realtime"
)

const (
	maxPostContent    = 2200
	maxCommentContent = 500
)

// FeedPost is a post decorated for the viewer.
type FeedPost struct {
	domain.Post
	Author    domain.User `json:"author"`
	LikedByMe bool        `json:"likedByMe"`
}

// LikeState is the authoritative like state after a toggle.
type LikeState struct {
	Liked      bool `json:"liked"`
	LikesCount int  `json:"likesCount"`
}

// CommentView is a comment with its author.
type CommentView struct {
	domain.Comment
	Author domain.User `json:"author"`
}

// PostInput is the body of a new post.
type PostInput struct {
	Content   string
	MediaURL  string
	MediaType string
}

// CreatePost stores a post and publishes it.
func (a *App) CreatePost(ctx context.Context, authorID string, in PostInput) (domain.Post, error) {
	content, fits := trimmed(in.Content, maxPostContent)
	if !fits {
		return domain.Post{}, fmt.Errorf("%w: content too long", ErrInvalid)
	}
	if content == "" && in.MediaURL == "" {
		return domain.Post{}, fmt.Errorf("%w: content or media required", ErrInvalid)
	}
	if err := a.checkMedia(authorID, in.MediaURL); err != nil {
		return domain.Post{}, err
	}
	now := a.clock()
	post := domain.Post{
		ID:        util.NewID(),
		AuthorID:  authorID,
		Content:   content,
		MediaURL:  in.MediaURL,
		MediaType: in.MediaType,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreatePost(post); err != nil {
		return domain.Post{}, storeErr("create post", err)
	}
	a.publish(ctx, realtime.TablePosts, realtime.Insert, post, nil)
	return post, nil
}

// GetPost loads one post for the viewer.
func (a *App) GetPost(viewerID, postID string) (FeedPost, error) {
	post, err := a.post(postID)
	if err != nil {
		return FeedPost{}, err
	}
	posts, err := a.decoratePosts(viewerID, []domain.Post{post})
	if err != nil {
		return FeedPost{}, err
	}
	return posts[0], nil
}

// DeletePost removes a post. Only the author or an admin may do so.
func (a *App) DeletePost(ctx context.Context, actor domain.User, postID string) error {
	post, err := a.post(postID)
	if err != nil {
		return err
	}
	if post.AuthorID != actor.ID && actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if err := a.store.DeletePost(postID); err != nil {
		return storeErr("delete post", err)
	}
	a.publish(ctx, realtime.TablePosts, realtime.Delete, nil, post)
	return nil
}

// Feed lists posts by the viewer and the users they follow, newest first.
func (a *App) Feed(viewerID string, before time.Time, limit int) ([]FeedPost, error) {
	following, err := a.store.ListFollowing(viewerID)
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	authors := append(following, viewerID)
	posts, err := a.store.ListPostsByAuthors(authors, before, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	return a.decoratePosts(viewerID, posts)
}

// UserPosts lists one user's posts, newest first.
func (a *App) UserPosts(viewerID, username string, before time.Time, limit int) ([]FeedPost, error) {
	user, err := a.userByUsername(username)
	if err != nil {
		return nil, err
	}
	posts, err := a.store.ListPostsByAuthors([]string{user.ID}, before, clampLimit(limit, 20, 100))
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return a.decoratePosts(viewerID, posts)
}

func (a *App) decoratePosts(viewerID string, posts []domain.Post) ([]FeedPost, error) {
	out := make([]FeedPost, 0, len(posts))
	if len(posts) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(posts))
	authorIDs := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
		authorIDs = append(authorIDs, p.AuthorID)
	}
	authors, err := a.publicUsers(authorIDs)
	if err != nil {
		return nil, err
	}
	liked := map[string]bool{}
	if viewerID != "" {
		liked, err = a.store.LikedPosts(viewerID, ids)
		if err != nil {
			return nil, fmt.Errorf("liked posts: %w", err)
		}
	}
	for _, p := range posts {
		out = append(out, FeedPost{Post: p, Author: authors[p.AuthorID], LikedByMe: liked[p.ID]})
	}
	return out, nil
}

// AddComment comments on a post and notifies its author.
func (a *App) AddComment(ctx context.Context, authorID, postID, content string) (domain.Comment, error) {
	content, fits := trimmed(content, maxCommentContent)
	if content == "" || !fits {
		return domain.Comment{}, fmt.Errorf("%w: comment must be 1-%d characters", ErrInvalid, maxCommentContent)
	}
	post, err := a.post(postID)
	if err != nil {
		return domain.Comment{}, err
	}
	comment := domain.Comment{
		ID:        util.NewID(),
		PostID:    postID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: a.clock(),
	}
	if err := a.store.AddComment(comment); err != nil {
		return domain.Comment{}, storeErr("add comment", err)
	}
	a.publish(ctx, realtime.TableComments, realtime.Insert, comment, nil)
	a.notify(ctx, notify.Request{
		UserID:   post.AuthorID,
		ActorID:  authorID,
		Kind:     domain.NotifyComment,
		EntityID: postID,
		Data:     map[string]string{"commentId": comment.ID},
	})
	return comment, nil
}

// ListComments returns a post's comments, oldest first.
func (a *App) ListComments(postID string) ([]CommentView, error) {
	if _, err := a.post(postID); err != nil {
		return nil, err
	}
	comments, err := a.store.ListComments(postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	authorIDs := make([]string, 0, len(comments))
	for _, c := range comments {
		authorIDs = append(authorIDs, c.AuthorID)
	}
	authors, err := a.publicUsers(authorIDs)
	if err != nil {
		return nil, err
	}
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		out = append(out, CommentView{Comment: c, Author: authors[c.AuthorID]})
	}
	return out, nil
}

// DeleteComment removes a comment. The comment author, the post author and
// admins may do so.
func (a *App) DeleteComment(ctx context.Context, actor domain.User, commentID string) error {
	comment, ok, err := a.store.GetComment(commentID)
	if err != nil {
		return fmt.Errorf("fetch comment: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: comment", ErrNotFound)
	}
	allowed := comment.AuthorID == actor.ID || actor.Role == domain.RoleAdmin
	if !allowed {
		if post, found, err := a.store.GetPost(comment.PostID); err == nil && found {
			allowed = post.AuthorID == actor.ID
		}
	}
	if !allowed {
		return ErrForbidden
	}
	if err := a.store.DeleteComment(commentID); err != nil {
		return storeErr("delete comment", err)
	}
	a.publish(ctx, realtime.TableComments, realtime.Delete, nil, comment)
	return nil
}

// LikePost likes a post. Liking twice returns the current state.
func (a *App) LikePost(ctx context.Context, userID, postID string) (LikeState, error) {
	post, err := a.post(postID)
	if err != nil {
		return LikeState{}, err
	}
	now := a.clock()
	added, count, err := a.store.LikePost(postID, userID, now)
	if err != nil {
		return LikeState{}, storeErr("like post", err)
	}
	if added {
		a.publish(ctx, realtime.TableLikes, realtime.Insert, domain.Like{PostID: postID, UserID: userID, CreatedAt: now}, nil)
		a.notify(ctx, notify.Request{
			UserID:   post.AuthorID,
			ActorID:  userID,
			Kind:     domain.NotifyLike,
			EntityID: postID,
		})
	}
	return LikeState{Liked: true, LikesCount: count}, nil
}

// UnlikePost removes a like. Unliking twice returns the current state.
func (a *App) UnlikePost(ctx context.Context, userID, postID string) (LikeState, error) {
	removed, count, err := a.store.UnlikePost(postID, userID)
	if err != nil {
		return LikeState{}, storeErr("unlike post", err)
	}
	if removed {
		a.publish(ctx, realtime.TableLikes, realtime.Delete, nil, domain.Like{PostID: postID, UserID: userID})
	}
	return LikeState{Liked: false, LikesCount: count}, nil
}

// Follow makes followerID follow username.
func (a *App) Follow(ctx context.Context, followerID, username string) error {
	target, err := a.userByUsername(username)
	if err != nil {
		return err
	}
	if target.ID == followerID {
		return ErrCannotSelf
	}
	now := a.clock()
	added, err := a.store.Follow(followerID, target.ID, now)
	if err != nil {
		return storeErr("follow", err)
	}
	if added {
		a.publish(ctx, realtime.TableFollows, realtime.Insert,
			domain.Follow{FollowerID: followerID, FolloweeID: target.ID, CreatedAt: now}, nil)
		a.notify(ctx, notify.Request{UserID: target.ID, ActorID: followerID, Kind: domain.NotifyFollow, EntityID: followerID})
	}
	return nil
}

// Unfollow removes a follow edge.
func (a *App) Unfollow(ctx context.Context, followerID, username string) error {
	target, err := a.userByUsername(username)
	if err != nil {
		return err
	}
	removed, err := a.store.Unfollow(followerID, target.ID)
	if err != nil {
		return storeErr("unfollow", err)
	}
	if removed {
		a.publish(ctx, realtime.TableFollows, realtime.Delete, nil,
			domain.Follow{FollowerID: followerID, FolloweeID: target.ID})
	}
	return nil
}

// Followers lists who follows username.
func (a *App) Followers(username string) ([]domain.User, error) {
	user, err := a.userByUsername(username)
	if err != nil {
		return nil, err
	}
	ids, err := a.store.ListFollowers(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list followers: %w", err)
	}
	return a.orderedUsers(ids)
}

// Following lists who username follows.
func (a *App) Following(username string) ([]domain.User, error) {
	user, err := a.userByUsername(username)
	if err != nil {
		return nil, err
	}
	ids, err := a.store.ListFollowing(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list following: %w", err)
	}
	return a.orderedUsers(ids)
}

func (a *App) orderedUsers(ids []string) ([]domain.User, error) {
	users, err := a.publicUsers(ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (a *App) post(postID string) (domain.Post, error) {
	post, ok, err := a.store.GetPost(postID)
	if err != nil {
		return domain.Post{}, fmt.Errorf("fetch post: %w", err)
	}
	if !ok {
		return domain.Post{}, fmt.Errorf("%w: post", ErrNotFound)
	}
	return post, nil
}

// checkMedia rejects media URLs that were not uploaded by userID.
func (a *App) checkMedia(userID, url string) error {
	if url == "" || a.media == nil {
		return nil
	}
	if len(url) > maxURL || !a.media.OwnedBy(url, userID) {
		return ErrMediaNotOwned
	}
	return nil
}
