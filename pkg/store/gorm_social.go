package store

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"afggram/pkg/domain"
)

func (s *GormStore) CreatePost(p domain.Post) error {
	model := postToModel(p)
	return translate(s.db.Create(&model).Error)
}

func (s *GormStore) GetPost(id string) (domain.Post, bool, error) {
	var model PostModel
	ok, err := first(s.db, &model, "id = ?", id)
	return postFromModel(model), ok, err
}

// DeletePost removes a post with its comments and likes.
func (s *GormStore) DeletePost(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&LikeModel{}, "post_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&CommentModel{}, "post_id = ?", id).Error; err != nil {
			return err
		}
		res := tx.Delete(&PostModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListPostsByAuthors pages newest first; a zero before starts at the top.
func (s *GormStore) ListPostsByAuthors(authorIDs []string, before time.Time, limit int) ([]domain.Post, error) {
	if len(authorIDs) == 0 || limit <= 0 {
		return []domain.Post{}, nil
	}
	query := s.db.Where("author_id IN ?", authorIDs)
	if !before.IsZero() {
		query = query.Where("created_at < ?", before.UTC())
	}
	var models []PostModel
	if err := query.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, postFromModel), nil
}

func (s *GormStore) CountPostsByAuthor(authorID string) (int, error) {
	var count int64
	err := s.db.Model(&PostModel{}).Where("author_id = ?", authorID).Count(&count).Error
	return int(count), err
}

// AddComment inserts the comment and bumps the post counter.
func (s *GormStore) AddComment(c domain.Comment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&PostModel{}).Where("id = ?", c.PostID).
			UpdateColumn("comments_count", gorm.Expr("comments_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		model := commentToModel(c)
		return translate(tx.Create(&model).Error)
	})
}

func (s *GormStore) GetComment(id string) (domain.Comment, bool, error) {
	var model CommentModel
	ok, err := first(s.db, &model, "id = ?", id)
	return commentFromModel(model), ok, err
}

func (s *GormStore) ListComments(postID string) ([]domain.Comment, error) {
	var models []CommentModel
	if err := s.db.Where("post_id = ?", postID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return mapModels(models, commentFromModel), nil
}

func (s *GormStore) DeleteComment(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model CommentModel
		ok, err := first(forUpdate(tx), &model, "id = ?", id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		if err := tx.Delete(&CommentModel{}, "id = ?", id).Error; err != nil {
			return err
		}
		return tx.Model(&PostModel{}).Where("id = ?", model.PostID).
			UpdateColumn("comments_count", gorm.Expr("GREATEST(comments_count - 1, 0)")).Error
	})
}

func (s *GormStore) LikePost(postID, userID string, at time.Time) (bool, int, error) {
	var (
		added bool
		count int
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var post PostModel
		ok, err := first(forUpdate(tx), &post, "id = ?", postID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		count = post.LikesCount
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&LikeModel{PostID: postID, UserID: userID, CreatedAt: at.UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		added = true
		count++
		return tx.Model(&PostModel{}).Where("id = ?", postID).
			UpdateColumn("likes_count", gorm.Expr("likes_count + 1")).Error
	})
	return added, count, err
}

func (s *GormStore) UnlikePost(postID, userID string) (bool, int, error) {
	var (
		removed bool
		count   int
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var post PostModel
		ok, err := first(forUpdate(tx), &post, "id = ?", postID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		count = post.LikesCount
		res := tx.Delete(&LikeModel{}, "post_id = ? AND user_id = ?", postID, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		count = max(count-1, 0)
		return tx.Model(&PostModel{}).Where("id = ?", postID).
			UpdateColumn("likes_count", gorm.Expr("GREATEST(likes_count - 1, 0)")).Error
	})
	return removed, count, err
}

func (s *GormStore) LikedPosts(userID string, postIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	var liked []string
	if err := s.db.Model(&LikeModel{}).
		Where("user_id = ? AND post_id IN ?", userID, postIDs).
		Pluck("post_id", &liked).Error; err != nil {
		return nil, err
	}
	for _, id := range liked {
		out[id] = true
	}
	return out, nil
}

func (s *GormStore) Follow(followerID, followeeID string, at time.Time) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&FollowModel{FollowerID: followerID, FolloweeID: followeeID, CreatedAt: at.UTC()})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) Unfollow(followerID, followeeID string) (bool, error) {
	res := s.db.Delete(&FollowModel{}, "follower_id = ? AND followee_id = ?", followerID, followeeID)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) IsFollowing(followerID, followeeID string) (bool, error) {
	var count int64
	err := s.db.Model(&FollowModel{}).
		Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) ListFollowers(userID string) ([]string, error) {
	ids := []string{}
	err := s.db.Model(&FollowModel{}).Where("followee_id = ?", userID).
		Order("created_at DESC").Pluck("follower_id", &ids).Error
	return ids, err
}

func (s *GormStore) ListFollowing(userID string) ([]string, error) {
	ids := []string{}
	err := s.db.Model(&FollowModel{}).Where("follower_id = ?", userID).
		Order("created_at DESC").Pluck("followee_id", &ids).Error
	return ids, err
}

func (s *GormStore) CountFollowers(userID string) (int, error) {
	var count int64
	err := s.db.Model(&FollowModel{}).Where("followee_id = ?", userID).Count(&count).Error
	return int(count), err
}

func (s *GormStore) CountFollowing(userID string) (int, error) {
	var count int64
	err := s.db.Model(&FollowModel{}).Where("follower_id = ?", userID).Count(&count).Error
	return int(count), err
}

func postToModel(p domain.Post) PostModel {
	return PostModel{
		ID:            p.ID,
		AuthorID:      p.AuthorID,
		Content:       p.Content,
		MediaURL:      p.MediaURL,
		MediaType:     p.MediaType,
		LikesCount:    p.LikesCount,
		CommentsCount: p.CommentsCount,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func postFromModel(m PostModel) domain.Post {
	return domain.Post{
		ID:            m.ID,
		AuthorID:      m.AuthorID,
		Content:       m.Content,
		MediaURL:      m.MediaURL,
		MediaType:     m.MediaType,
		LikesCount:    m.LikesCount,
		CommentsCount: m.CommentsCount,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func commentToModel(c domain.Comment) CommentModel {
	return CommentModel{ID: c.ID, PostID: c.PostID, AuthorID: c.AuthorID, Content: c.Content, CreatedAt: c.CreatedAt}
}

func commentFromModel(m CommentModel) domain.Comment {
	return domain.Comment{ID: m.ID, PostID: m.PostID, AuthorID: m.AuthorID, Content: m.Content, CreatedAt: m.CreatedAt}
}
