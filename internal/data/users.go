// Package data provides DB models and stores.
package data

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/gkkary3/Netless/internal/apperr"
	"github.com/gkkary3/Netless/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrUserExists is returned by CreateUser on a duplicate email.
var ErrUserExists = errors.New("user already exists")

// UsersStore performs user DB operations. Besides account lookups it owns
// the two persisted presence fields, is_online and last_seen.
type UsersStore struct {
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// CreateUser inserts a new user document with an already-hashed password.
// New users start offline.
func (u *UsersStore) CreateUser(ctx context.Context, email, hashedPassword, username string) (*User, error) {
	now := time.Now().UTC()
	user := &User{
		ID:        bson.NewObjectID(),
		Email:     normalize.Email(email),
		Password:  hashedPassword,
		Username:  username,
		IsOnline:  false,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := u.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

// GetUserByEmail finds a user by email.
func (u *UsersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"email": normalize.Email(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByID finds a user by ObjectID.
func (u *UsersStore) GetUserByID(ctx context.Context, id bson.ObjectID) (*User, error) {
	var user User
	err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, err
	}
	return &user, nil
}

// UserExists reports whether a user with the given id exists.
func (u *UsersStore) UserExists(ctx context.Context, id bson.ObjectID) (bool, error) {
	count, err := u.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Profiles loads the public profile fields for ids. Unknown ids are simply
// absent from the result.
func (u *UsersStore) Profiles(ctx context.Context, ids []bson.ObjectID) (map[bson.ObjectID]*User, error) {
	out := make(map[bson.ObjectID]*User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.M{"username": 1, "profile_image": 1})
	cursor, err := u.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	for _, user := range users {
		out[user.ID] = user
	}
	return out, nil
}

// SearchUsers returns up to limit users whose username or email contains
// query (case-insensitive), excluding the caller. A non-nil restrictTo limits
// results to those ids.
func (u *UsersStore) SearchUsers(ctx context.Context, exclude bson.ObjectID, query string, restrictTo []bson.ObjectID, limit int64) ([]*User, error) {
	// quote so user input is matched literally
	pattern := bson.M{"$regex": regexp.QuoteMeta(query), "$options": "i"}

	idFilter := bson.M{"$ne": exclude}
	if restrictTo != nil {
		idFilter["$in"] = restrictTo
	}
	filter := bson.M{
		"_id": idFilter,
		"$or": bson.A{
			bson.M{"username": pattern},
			bson.M{"email": pattern},
		},
	}

	opts := options.Find().
		SetProjection(bson.M{"username": 1, "email": 1, "profile_image": 1}).
		SetLimit(limit)

	cursor, err := u.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var users []*User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// SetPresence persists is_online and last_seen for one user. It is used on
// connect, disconnect and every heartbeat.
func (u *UsersStore) SetPresence(ctx context.Context, id bson.ObjectID, online bool, at time.Time) error {
	res, err := u.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_online": online, "last_seen": at.UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// GetPresence returns the persisted presence of a user.
func (u *UsersStore) GetPresence(ctx context.Context, id bson.ObjectID) (*Presence, error) {
	var user User
	opts := options.FindOne().SetProjection(bson.M{"is_online": 1, "last_seen": 1})
	if err := u.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, err
	}
	return &Presence{UserID: id.Hex(), IsOnline: user.IsOnline, LastSeen: user.LastSeen}, nil
}

// DemoteStale marks offline every user still flagged online whose last_seen
// is before cutoff. last_seen is left alone so "last seen" displays keep the
// time of the final heartbeat.
func (u *UsersStore) DemoteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := u.coll.UpdateMany(ctx,
		bson.M{"is_online": true, "last_seen": bson.M{"$lt": cutoff.UTC()}},
		bson.M{"$set": bson.M{"is_online": false}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// ResetPresence marks every online user offline. Called at startup, when
// the in-memory registry is known to be empty.
func (u *UsersStore) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	res, err := u.coll.UpdateMany(ctx,
		bson.M{"is_online": true},
		bson.M{"$set": bson.M{"is_online": false, "last_seen": at.UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// BackfillPresence gives documents created before presence tracking the
// default is_online=false and last_seen=now.
func (u *UsersStore) BackfillPresence(ctx context.Context, now time.Time) (onlineSet, lastSeenSet int64, err error) {
	res, err := u.coll.UpdateMany(ctx,
		bson.M{"is_online": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"is_online": false}},
	)
	if err != nil {
		return 0, 0, err
	}
	onlineSet = res.ModifiedCount

	res, err = u.coll.UpdateMany(ctx,
		bson.M{"last_seen": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"last_seen": now.UTC()}},
	)
	if err != nil {
		return onlineSet, 0, err
	}
	return onlineSet, res.ModifiedCount, nil
}

// Count returns the number of user documents.
func (u *UsersStore) Count(ctx context.Context) (int64, error) {
	return u.coll.CountDocuments(ctx, bson.M{})
}
