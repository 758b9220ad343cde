// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os/user"
	"strconv"

	lferrors "github.com/tombee/lifeline/pkg/errors"
)

// resolveIDs maps user and group names (or numeric IDs) to IDs. An empty
// name yields nil. A user given without a group also sets the group to the
// user's primary group.
func resolveIDs(userName, groupName string) (uid, gid *int, err error) {
	if userName != "" {
		u, err := lookupUser(userName)
		if err != nil {
			return nil, nil, &lferrors.ConfigError{Key: "user", Reason: fmt.Sprintf("unknown user %q", userName), Cause: err}
		}
		id, err := strconv.Atoi(u.Uid)
		if err != nil {
			return nil, nil, &lferrors.ConfigError{Key: "user", Reason: "non-numeric uid " + u.Uid, Cause: err}
		}
		uid = &id
		if groupName == "" {
			if g, err := strconv.Atoi(u.Gid); err == nil {
				gid = &g
			}
		}
	}

	if groupName != "" {
		g, err := lookupGroup(groupName)
		if err != nil {
			return nil, nil, &lferrors.ConfigError{Key: "group", Reason: fmt.Sprintf("unknown group %q", groupName), Cause: err}
		}
		id, err := strconv.Atoi(g.Gid)
		if err != nil {
			return nil, nil, &lferrors.ConfigError{Key: "group", Reason: "non-numeric gid " + g.Gid, Cause: err}
		}
		gid = &id
	}
	return uid, gid, nil
}

func lookupUser(name string) (*user.User, error) {
	if _, err := strconv.Atoi(name); err == nil {
		if u, err := user.LookupId(name); err == nil {
			return u, nil
		}
		// A numeric uid need not have a passwd entry.
		return &user.User{Uid: name}, nil
	}
	return user.Lookup(name)
}

func lookupGroup(name string) (*user.Group, error) {
	if _, err := strconv.Atoi(name); err == nil {
		return &user.Group{Gid: name}, nil
	}
	return user.LookupGroup(name)
}
